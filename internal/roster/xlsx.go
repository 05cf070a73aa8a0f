package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"
)

// XLSXStore keeps both tables as sheets of a local workbook. The workbook is
// opened for every call so edits made by hand between calls are picked up.
type XLSXStore struct {
	mu           sync.Mutex
	path         string
	studentSheet string
	qrSheet      string
}

func NewXLSXStore(path, studentSheet, qrSheet string) *XLSXStore {
	return &XLSXStore{path: path, studentSheet: studentSheet, qrSheet: qrSheet}
}

func (s *XLSXStore) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", s.path, err)
	}
	return f, nil
}

func (s *XLSXStore) view(ctx context.Context, fn func(f *excelize.File) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func (s *XLSXStore) update(ctx context.Context, fn func(f *excelize.File) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := fn(f); err != nil {
		return err
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", s.path, err)
	}
	return nil
}

func readSheet(f *excelize.File, sheet string) ([][]string, error) {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return [][]string{}, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

func ensureSheet(f *excelize.File, sheet string) error {
	if idx, _ := f.GetSheetIndex(sheet); idx >= 0 {
		return nil
	}
	_, err := f.NewSheet(sheet)
	return err
}

// replaceSheet writes rows into a fresh sheet and swaps it in under the old
// name, leaving no stale cells behind.
func replaceSheet(f *excelize.File, sheet string, rows [][]string) error {
	tmp := sheet + "_new"
	if _, err := f.NewSheet(tmp); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(tmp, cell, &values); err != nil {
			return err
		}
	}
	if idx, _ := f.GetSheetIndex(sheet); idx >= 0 {
		if err := f.DeleteSheet(sheet); err != nil {
			return err
		}
	}
	return f.SetSheetName(tmp, sheet)
}

func (s *XLSXStore) ReadStudents(ctx context.Context) (rows [][]string, err error) {
	err = s.view(ctx, func(f *excelize.File) error {
		rows, err = readSheet(f, s.studentSheet)
		return err
	})
	return rows, err
}

func (s *XLSXStore) WriteStudents(ctx context.Context, rows [][]string) error {
	return s.update(ctx, func(f *excelize.File) error {
		return replaceSheet(f, s.studentSheet, rows)
	})
}

func (s *XLSXStore) UpdateStudentCell(ctx context.Context, row, col int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return fmt.Errorf("invalid cell %d,%d: %w", row, col, err)
	}
	return s.update(ctx, func(f *excelize.File) error {
		if err := ensureSheet(f, s.studentSheet); err != nil {
			return err
		}
		return f.SetCellStr(s.studentSheet, cell, value)
	})
}

func (s *XLSXStore) ReadQRCodes(ctx context.Context) (rows [][]string, err error) {
	err = s.view(ctx, func(f *excelize.File) error {
		rows, err = readSheet(f, s.qrSheet)
		return err
	})
	return rows, err
}

func (s *XLSXStore) WriteQRCodes(ctx context.Context, rows [][]string) error {
	return s.update(ctx, func(f *excelize.File) error {
		return replaceSheet(f, s.qrSheet, rows)
	})
}

func (s *XLSXStore) UpsertQRCode(ctx context.Context, studentID, url string) (UpsertAction, error) {
	action := ActionAdded
	err := s.update(ctx, func(f *excelize.File) error {
		if err := ensureSheet(f, s.qrSheet); err != nil {
			return err
		}
		rows, err := readSheet(f, s.qrSheet)
		if err != nil {
			return err
		}
		row := findRow(rows, studentID)
		if row >= 0 {
			action = ActionUpdated
		} else {
			row = len(rows)
		}
		cell, err := excelize.CoordinatesToCellName(1, row+1)
		if err != nil {
			return err
		}
		return f.SetSheetRow(s.qrSheet, cell, &[]interface{}{studentID, url})
	})
	if err != nil {
		return "", err
	}
	return action, nil
}
