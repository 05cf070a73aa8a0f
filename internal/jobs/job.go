package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/stream"
)

// ErrCancelled is the cancellation cause of a job stopped through Cancel.
var ErrCancelled = errors.New("job cancelled")

// Job is one tracked unit of work. Only its controller mutates it; readers
// use Snapshot.
type Job struct {
	ID        string
	Kind      models.JobKind
	SourceKey string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc
	stream *stream.Channel

	mu         sync.Mutex
	state      models.JobState
	progress   int
	message    string
	errMsg     string
	summary    *models.Summary
	finishedAt time.Time
}

// Context is cancelled when the job is cancelled or the process shuts down.
// It is independent of the request that started the job.
func (j *Job) Context() context.Context { return j.ctx }

// Stream is the job's progress channel.
func (j *Job) Stream() *stream.Channel { return j.stream }

// Start moves a queued job to running.
func (j *Job) Start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != models.JobQueued {
		return false
	}
	j.state = models.JobRunning
	return true
}

// Report publishes an intermediate progress event.
func (j *Job) Report(progress int, message string) {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return
	}
	if progress > j.progress {
		j.progress = min(progress, 100)
	}
	j.message = message
	progress = j.progress
	j.mu.Unlock()

	j.stream.Publish(models.ProgressEvent{Progress: progress, Message: message, Status: message})
}

// Complete ends the job successfully with ev as its terminal event.
func (j *Job) Complete(ev models.ProgressEvent) bool {
	ev.Done = true
	ev.Error = ""
	ev.Progress = 100
	if !j.finish(models.JobCompleted, ev) {
		return false
	}
	j.stream.Publish(ev)
	return true
}

// Fail ends the job with err. A job whose context was cancelled ends
// cancelled instead of failed.
func (j *Job) Fail(err error) bool {
	state := models.JobFailed
	if j.ctx.Err() != nil {
		state = models.JobCancelled
		if cause := context.Cause(j.ctx); cause != nil {
			err = cause
		}
	}
	if err == nil {
		err = errors.New("job failed")
	}
	ev := models.ProgressEvent{Error: err.Error(), Message: err.Error(), Status: string(state)}
	if !j.finish(state, ev) {
		return false
	}
	j.stream.Publish(ev)
	return true
}

// Cancel stops the job at its next suspension point.
func (j *Job) Cancel() {
	j.cancel(ErrCancelled)
}

func (j *Job) finish(state models.JobState, ev models.ProgressEvent) bool {
	j.mu.Lock()
	if j.state.Terminal() {
		j.mu.Unlock()
		return false
	}
	j.state = state
	j.progress = 100
	j.message = ev.Message
	j.errMsg = ev.Error
	j.summary = ev.Summary
	j.finishedAt = time.Now()
	elapsed := j.finishedAt.Sub(j.CreatedAt)
	j.mu.Unlock()

	metrics.RecordJobFinished(string(j.Kind), string(state), elapsed)
	j.cancel(nil)
	return true
}

// State returns the current lifecycle state.
func (j *Job) State() models.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Snapshot copies the job for serialization.
func (j *Job) Snapshot() models.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	snap := models.JobSnapshot{
		ID:              j.ID,
		Kind:            j.Kind,
		State:           j.state,
		SourceObjectKey: j.SourceKey,
		Progress:        j.progress,
		Message:         j.message,
		Error:           j.errMsg,
		Summary:         j.summary,
		CreatedAt:       j.CreatedAt,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

func (j *Job) reapable(now time.Time, retention time.Duration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		return false
	}
	return j.stream.TerminalDelivered() || now.Sub(j.finishedAt) >= retention
}
