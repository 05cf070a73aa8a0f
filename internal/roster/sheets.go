package roster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"
	"google.golang.org/api/sheets/v4"
)

// SheetsStore keeps both tables in one Google spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	studentSheet  string
	qrSheet       string
}

func NewSheetsStore(svc *sheets.Service, spreadsheetID, studentSheet, qrSheet string) *SheetsStore {
	return &SheetsStore{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		studentSheet:  studentSheet,
		qrSheet:       qrSheet,
	}
}

func (s *SheetsStore) studentRange() string { return s.studentSheet + "!A:ZZ" }
func (s *SheetsStore) qrRange() string      { return s.qrSheet + "!A:B" }

func (s *SheetsStore) read(ctx context.Context, rng string) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rng, err)
	}
	return toStrings(resp.Values), nil
}

func (s *SheetsStore) replace(ctx context.Context, rng string, rows [][]string) error {
	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", rng, err)
	}
	if len(rows) == 0 {
		return nil
	}
	return s.update(ctx, rng, rows)
}

func (s *SheetsStore) update(ctx context.Context, rng string, rows [][]string) error {
	vr := &sheets.ValueRange{Values: toValues(rows)}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, vr).ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to write %s: %w", rng, err)
	}
	return nil
}

func (s *SheetsStore) ReadStudents(ctx context.Context) ([][]string, error) {
	return s.read(ctx, s.studentRange())
}

func (s *SheetsStore) WriteStudents(ctx context.Context, rows [][]string) error {
	return s.replace(ctx, s.studentRange(), rows)
}

func (s *SheetsStore) UpdateStudentCell(ctx context.Context, row, col int, value string) error {
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return fmt.Errorf("invalid cell %d,%d: %w", row, col, err)
	}
	return s.update(ctx, s.studentSheet+"!"+cell, [][]string{{value}})
}

func (s *SheetsStore) ReadQRCodes(ctx context.Context) ([][]string, error) {
	return s.read(ctx, s.qrRange())
}

func (s *SheetsStore) WriteQRCodes(ctx context.Context, rows [][]string) error {
	return s.replace(ctx, s.qrRange(), rows)
}

// UpsertQRCode reads the QR table and then writes a single cell or appends
// a row. Nothing guards the gap between the read and the write.
func (s *SheetsStore) UpsertQRCode(ctx context.Context, studentID, url string) (UpsertAction, error) {
	rows, err := s.ReadQRCodes(ctx)
	if err != nil {
		return "", err
	}
	logCtx := slog.With("studentId", studentID, "sheet", s.qrSheet)

	if i := findRow(rows, studentID); i >= 0 {
		cell, err := excelize.CoordinatesToCellName(2, i+1)
		if err != nil {
			return "", err
		}
		if err := s.update(ctx, s.qrSheet+"!"+cell, [][]string{{url}}); err != nil {
			return "", err
		}
		logCtx.Debug("Updated QR code link.", "cell", cell)
		return ActionUpdated, nil
	}

	vr := &sheets.ValueRange{Values: toValues([][]string{{studentID, url}})}
	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.qrRange(), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to append to %s: %w", s.qrRange(), err)
	}
	logCtx.Debug("Appended QR code link.")
	return ActionAdded, nil
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			if v != nil {
				rows[i][j] = fmt.Sprint(v)
			}
		}
	}
	return rows
}

func toValues(rows [][]string) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, v := range row {
			values[i][j] = v
		}
	}
	return values
}
