package models

import "time"

// Run-history statuses stored on BatchRun.Status.
const (
	RunStatusProcessing = "PROCESSING"
	RunStatusCompleted  = "COMPLETED"
	RunStatusFailed     = "FAILED"
	RunStatusCancelled  = "CANCELLED"
)

// BatchRun is the Firestore record of one mass QR upload. It is an audit
// trail only; live job state is held in memory by the job registry.
type BatchRun struct {
	JobID             string    `firestore:"jobId"`
	SourceObjectKey   string    `firestore:"sourceObjectKey,omitempty"`
	FileHash          string    `firestore:"fileHash,omitempty"`
	UserEmail         string    `firestore:"userEmail,omitempty"`
	Trigger           string    `firestore:"trigger,omitempty"` // "api" or "object-finalize"
	Status            string    `firestore:"status,omitempty"`
	ErrorDetails      string    `firestore:"errorDetails,omitempty"`
	PageCount         int       `firestore:"pageCount,omitempty"`
	TotalStudents     int       `firestore:"totalStudentsInPdf"`
	MatchedStudents   int       `firestore:"matchedStudents"`
	SuccessfulUploads int       `firestore:"successfulUploads"`
	FailedUploads     int       `firestore:"failedUploads"`
	FailedStudents    []string  `firestore:"failedStudents,omitempty"`
	CreatedAt         time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt         time.Time `firestore:"updatedAt,omitempty"`
}
