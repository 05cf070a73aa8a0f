package models

// Token is the identifying text read from one PDF segment.
type Token struct {
	ID   string `json:"uuid"`
	Name string `json:"studentName"`
}

// MatchStatus is the outcome class of resolving a token against the roster.
type MatchStatus string

const (
	MatchMatched   MatchStatus = "matched"
	MatchUnmatched MatchStatus = "unmatched"
	MatchAmbiguous MatchStatus = "ambiguous"
)

// MatchResult is the outcome of matching one token. StudentID, FullName and
// RowIndex are set only when Status is MatchMatched. RowIndex counts the
// header row, so the first student is row 1.
type MatchResult struct {
	Status     MatchStatus `json:"status"`
	StudentID  string      `json:"studentId,omitempty"`
	FullName   string      `json:"fullName,omitempty"`
	RowIndex   int         `json:"rowIndex,omitempty"`
	Candidates int         `json:"candidates,omitempty"`
}

// StudentInfo describes a roster row.
type StudentInfo struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	FullName       string `json:"fullName,omitempty"`
	StudentID      string `json:"studentId"`
	Center         string `json:"center,omitempty"`
	LastAttendance string `json:"lastAttendance,omitempty"`
	QRCode         string `json:"qrCode,omitempty"`
	RowIndex       int    `json:"rowIndex,omitempty"`
}

// Credentials are the Google OAuth tokens of the staff member driving an
// upload. RefreshToken is optional; without it an expired access token
// fails the upload.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}
