package roster

import (
	"sort"
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// legacyCenterColumn is column AX, where the center lived before headers
// were used to find it.
const legacyCenterColumn = 49

func centerColumn(header []string) int {
	if legacyCenterColumn < len(header) &&
		strings.EqualFold(strings.TrimSpace(header[legacyCenterColumn]), matcher.HeaderCenter) {
		return legacyCenterColumn
	}
	return matcher.HeaderIndex(header, matcher.HeaderCenter)
}

func isCenterValue(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v != "" && v != "center" && v != "center id"
}

// Centers lists the distinct center names of the student table, sorted.
func Centers(table [][]string) ([]string, error) {
	if len(table) == 0 {
		return []string{}, nil
	}
	col := centerColumn(table[0])
	if col < 0 {
		return nil, ErrCenterColumnMissing
	}

	seen := make(map[string]struct{})
	for _, row := range table[1:] {
		if col >= len(row) || !isCenterValue(row[col]) {
			continue
		}
		seen[strings.TrimSpace(row[col])] = struct{}{}
	}
	centers := make([]string, 0, len(seen))
	for c := range seen {
		centers = append(centers, c)
	}
	sort.Strings(centers)
	return centers, nil
}

// StudentsByCenter returns the students whose center equals center after
// trimming both sides.
func StudentsByCenter(table [][]string, center string) ([]models.StudentInfo, error) {
	students := []models.StudentInfo{}
	if len(table) == 0 {
		return students, nil
	}
	cols := matcher.ResolveColumns(table[0])
	if cols.Center < 0 {
		return nil, ErrCenterColumnMissing
	}
	center = strings.TrimSpace(center)

	cell := func(row []string, col int) string {
		if col < 0 || col >= len(row) {
			return ""
		}
		return row[col]
	}
	for i, row := range table[1:] {
		c := strings.TrimSpace(cell(row, cols.Center))
		if c == "" || c != center {
			continue
		}
		students = append(students, models.StudentInfo{
			FirstName:      cell(row, cols.FirstName),
			LastName:       cell(row, cols.LastName),
			StudentID:      cell(row, cols.StudentID),
			Center:         c,
			LastAttendance: cell(row, cols.LastAttendance),
			QRCode:         cell(row, cols.QRCode),
			RowIndex:       i + 1,
		})
	}
	return students, nil
}

// FindQRCode returns the URL stored for studentID in the QR table.
func FindQRCode(table [][]string, studentID string) (string, bool) {
	i := findRow(table, studentID)
	if i < 0 || len(table[i]) < 2 || table[i][1] == "" {
		return "", false
	}
	return table[i][1], true
}
