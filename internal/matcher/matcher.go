package matcher

import (
	"strings"

	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// Policy decides what happens when several roster rows carry the same name.
type Policy int

const (
	// FirstWins matches the first equal row and ignores later duplicates.
	FirstWins Policy = iota
	// ReportAmbiguous classifies a name shared by several rows as ambiguous.
	ReportAmbiguous
)

// Matcher compares tokens to roster rows by normalized full name.
type Matcher struct {
	policy Policy
}

func New(policy Policy) *Matcher {
	return &Matcher{policy: policy}
}

// Normalize trims, collapses internal whitespace and case-folds s.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Match resolves tok against r. A nil token or an empty name is unmatched.
// The result depends only on its inputs.
func (m *Matcher) Match(tok *models.Token, r *Roster) models.MatchResult {
	if tok == nil || r == nil {
		return models.MatchResult{Status: models.MatchUnmatched}
	}
	want := Normalize(tok.Name)
	if want == "" {
		return models.MatchResult{Status: models.MatchUnmatched}
	}

	first, count := -1, 0
	for row := 1; row < r.Len(); row++ {
		if Normalize(r.FullName(row)) != want {
			continue
		}
		count++
		if first < 0 {
			first = row
			if m.policy == FirstWins {
				break
			}
		}
	}

	switch {
	case count == 0:
		return models.MatchResult{Status: models.MatchUnmatched}
	case count > 1 && m.policy == ReportAmbiguous:
		return models.MatchResult{Status: models.MatchAmbiguous, Candidates: count}
	}
	return models.MatchResult{
		Status:    models.MatchMatched,
		StudentID: r.Cell(first, r.cols.StudentID),
		FullName:  r.FullName(first),
		RowIndex:  first,
	}
}
