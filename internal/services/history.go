package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/mathcheckin/internal/models"
)

// RunHistory is the audit trail of batch runs. Live job state never depends
// on it, so write failures are logged and otherwise ignored.
type RunHistory interface {
	Begin(ctx context.Context, run models.BatchRun) error
	Finish(ctx context.Context, jobID, status string, summary *models.Summary, errDetails string) error
	// FindByHash returns the job id of an earlier completed run of the same file.
	FindByHash(ctx context.Context, fileHash string) (string, bool, error)
}

// FirestoreHistory stores one document per batch job, keyed by job id.
type FirestoreHistory struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreHistory(client *firestore.Client, collection string) *FirestoreHistory {
	if collection == "" {
		collection = "qrBatchRuns"
	}
	return &FirestoreHistory{client: client, collection: collection}
}

func (h *FirestoreHistory) Begin(ctx context.Context, run models.BatchRun) error {
	run.Status = models.RunStatusProcessing
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	if _, err := h.client.Collection(h.collection).Doc(run.JobID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to create run document: %w", err)
	}
	return nil
}

func (h *FirestoreHistory) Finish(ctx context.Context, jobID, status string, summary *models.Summary, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: status},
		{Path: "updatedAt", Value: time.Now()},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	if summary != nil {
		updates = append(updates,
			firestore.Update{Path: "totalStudentsInPdf", Value: summary.TotalStudentsInPDF},
			firestore.Update{Path: "matchedStudents", Value: summary.MatchedStudents},
			firestore.Update{Path: "successfulUploads", Value: summary.SuccessfulUploads},
			firestore.Update{Path: "failedUploads", Value: summary.FailedUploads},
			firestore.Update{Path: "failedStudents", Value: summary.FailedStudents},
		)
	}
	if _, err := h.client.Collection(h.collection).Doc(jobID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update run document: %w", err)
	}
	return nil
}

func (h *FirestoreHistory) FindByHash(ctx context.Context, fileHash string) (string, bool, error) {
	docs, err := h.client.Collection(h.collection).
		Where("fileHash", "==", fileHash).
		Where("status", "==", models.RunStatusCompleted).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].Ref.ID, true, nil
	}
	return "", false, nil
}

func fileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
