package segmenter

import (
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// DefaultMarker labels the identifier line on generated QR sheets.
const DefaultMarker = "UUID:"

// ParseToken finds the first line containing marker. The identifier is the
// rest of that line and the name is the next non-blank line. It returns nil
// when the marker or the name is missing.
func ParseToken(text, marker string) *models.Token {
	if marker == "" {
		marker = DefaultMarker
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i, line := range lines {
		at := indexFold(line, marker)
		if at < 0 {
			continue
		}
		tok := &models.Token{ID: strings.TrimSpace(line[at+len(marker):])}
		for _, next := range lines[i+1:] {
			next = collapseSpaces(next)
			if next == "" || containsFold(next, marker) {
				continue
			}
			tok.Name = next
			return tok
		}
		return nil
	}
	return nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsFold(s, substr string) bool {
	return indexFold(s, substr) >= 0
}

// indexFold is a case-insensitive strings.Index. Offsets are into s.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
