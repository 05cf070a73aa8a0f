// Package matcher resolves the name read from a QR sheet to a row of the
// student roster.
package matcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// Roster header names. Lookup is case-insensitive on trimmed values and the
// first matching column wins.
const (
	HeaderFirstName      = "first name"
	HeaderLastName       = "last name"
	HeaderStudentID      = "student id"
	HeaderQRCode         = "qr code"
	HeaderCenter         = "center"
	HeaderLastAttendance = "last attendance date"
)

// ErrMissingHeaders is returned when the roster lacks a column matching needs.
var ErrMissingHeaders = errors.New("required roster columns not found")

// ErrEmptyRoster is returned for a table without a header row.
var ErrEmptyRoster = errors.New("no student data available")

// Columns holds resolved column positions; -1 means absent.
type Columns struct {
	FirstName      int
	LastName       int
	StudentID      int
	QRCode         int
	Center         int
	LastAttendance int
}

// HeaderIndex returns the position of the first header equal to name after
// trimming and case folding, or -1.
func HeaderIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// ResolveColumns locates every known column in the header row.
func ResolveColumns(header []string) Columns {
	return Columns{
		FirstName:      HeaderIndex(header, HeaderFirstName),
		LastName:       HeaderIndex(header, HeaderLastName),
		StudentID:      HeaderIndex(header, HeaderStudentID),
		QRCode:         HeaderIndex(header, HeaderQRCode),
		Center:         HeaderIndex(header, HeaderCenter),
		LastAttendance: HeaderIndex(header, HeaderLastAttendance),
	}
}

// Roster is an immutable snapshot of the student table, header row
// included, with its columns resolved once.
type Roster struct {
	rows [][]string
	cols Columns
}

// NewRoster snapshots table. The first name, last name and student id
// columns are required; a roster missing any of them is rejected once here
// rather than per row.
func NewRoster(table [][]string) (*Roster, error) {
	if len(table) == 0 {
		return nil, ErrEmptyRoster
	}
	cols := ResolveColumns(table[0])

	var missing []string
	if cols.FirstName < 0 {
		missing = append(missing, HeaderFirstName)
	}
	if cols.LastName < 0 {
		missing = append(missing, HeaderLastName)
	}
	if cols.StudentID < 0 {
		missing = append(missing, HeaderStudentID)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeaders, strings.Join(missing, ", "))
	}

	rows := make([][]string, len(table))
	copy(rows, table)
	return &Roster{rows: rows, cols: cols}, nil
}

// Columns returns the resolved column positions.
func (r *Roster) Columns() Columns { return r.cols }

// Len is the number of rows including the header.
func (r *Roster) Len() int { return len(r.rows) }

// Cell returns the trimmed value at row, col or "" when out of range.
func (r *Roster) Cell(row, col int) string {
	if row < 0 || row >= len(r.rows) || col < 0 || col >= len(r.rows[row]) {
		return ""
	}
	return strings.TrimSpace(r.rows[row][col])
}

// FullName composes "first last" for a data row.
func (r *Roster) FullName(row int) string {
	return strings.TrimSpace(r.Cell(row, r.cols.FirstName) + " " + r.Cell(row, r.cols.LastName))
}

// Student describes a data row.
func (r *Roster) Student(row int) models.StudentInfo {
	return models.StudentInfo{
		FirstName:      r.Cell(row, r.cols.FirstName),
		LastName:       r.Cell(row, r.cols.LastName),
		FullName:       r.FullName(row),
		StudentID:      r.Cell(row, r.cols.StudentID),
		Center:         r.Cell(row, r.cols.Center),
		LastAttendance: r.Cell(row, r.cols.LastAttendance),
		QRCode:         r.Cell(row, r.cols.QRCode),
		RowIndex:       row,
	}
}
