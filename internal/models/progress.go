package models

// ProgressEvent is one message on a job's progress stream. The first event
// with Done or Error set is the last one delivered.
type ProgressEvent struct {
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
	Status   string   `json:"status,omitempty"`
	Done     bool     `json:"done"`
	Error    string   `json:"error,omitempty"`
	Summary  *Summary `json:"summary,omitempty"`
	QRCode   string   `json:"qrCode,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e ProgressEvent) Terminal() bool {
	return e.Done || e.Error != ""
}

// Summary is the final report of a completed batch job.
type Summary struct {
	TotalStudentsInPDF int      `json:"totalStudentsInPdf"`
	MatchedStudents    int      `json:"matchedStudents"`
	SuccessfulUploads  int      `json:"successfulUploads"`
	FailedUploads      int      `json:"failedUploads"`
	UploadedStudents   []string `json:"uploadedStudents"`
	FailedStudents     []string `json:"failedStudents"`
}
