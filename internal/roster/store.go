// Package roster reads and writes the student roster and the QR-code table.
//
// Both tables are handled as plain rows of strings with the header at index
// 0. Two backends are provided: Google Sheets for deployments and a local
// XLSX workbook for development and tests.
package roster

import (
	"context"
	"errors"
	"strings"
)

// UpsertAction reports whether UpsertQRCode changed an existing link or
// added a new row.
type UpsertAction string

const (
	ActionAdded   UpsertAction = "added"
	ActionUpdated UpsertAction = "updated"
)

// ErrCenterColumnMissing is returned by the center helpers when no column
// can be identified as the center column.
var ErrCenterColumnMissing = errors.New("center column not found in student data")

// Store is the tabular roster backend. Concurrent jobs are not serialized
// against each other: two writers racing on the same row leave the value of
// the last one.
type Store interface {
	// ReadStudents returns the full student table, header row included.
	ReadStudents(ctx context.Context) ([][]string, error)
	// WriteStudents replaces the full student table.
	WriteStudents(ctx context.Context, rows [][]string) error
	// UpdateStudentCell writes one cell; row and col are 0-based table
	// positions with the header at row 0.
	UpdateStudentCell(ctx context.Context, row, col int, value string) error
	// ReadQRCodes returns the two-column (student id, url) table.
	ReadQRCodes(ctx context.Context) ([][]string, error)
	// WriteQRCodes replaces the QR table.
	WriteQRCodes(ctx context.Context, rows [][]string) error
	// UpsertQRCode points studentID at url, updating the first row with that
	// id or appending a new one.
	UpsertQRCode(ctx context.Context, studentID, url string) (UpsertAction, error)
}

// findRow returns the index of the first row whose first cell is id,
// ignoring surrounding spaces.
func findRow(rows [][]string, id string) int {
	id = strings.TrimSpace(id)
	for i, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) == id {
			return i
		}
	}
	return -1
}
