// Package jobs is the in-memory arena of running and recently finished
// jobs. Nothing here survives a restart.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/stream"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or already reaped job ids.
var ErrNotFound = errors.New("job not found")

// Registry maps job ids to jobs. Job contexts derive from the base context
// given to NewRegistry, so cancelling it stops every job.
type Registry struct {
	base context.Context

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewRegistry(base context.Context) *Registry {
	return &Registry{base: base, jobs: make(map[string]*Job)}
}

// Create registers a queued job with a fresh id.
func (r *Registry) Create(kind models.JobKind, sourceKey string) *Job {
	ctx, cancel := context.WithCancelCause(r.base)
	j := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		SourceKey: sourceKey,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		stream:    stream.NewChannel(),
		state:     models.JobQueued,
	}

	r.mu.Lock()
	r.jobs[j.ID] = j
	n := len(r.jobs)
	r.mu.Unlock()

	metrics.JobsStarted.WithLabelValues(string(kind)).Inc()
	metrics.JobsActive.Set(float64(n))
	return j
}

func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, nil
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	delete(r.jobs, id)
	n := len(r.jobs)
	r.mu.Unlock()

	if ok {
		j.cancel(nil)
	}
	metrics.JobsActive.Set(float64(n))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Reap removes finished jobs whose terminal event reached a client or whose
// retention has run out, and returns how many it removed.
func (r *Registry) Reap(now time.Time, retention time.Duration) int {
	r.mu.RLock()
	var ids []string
	for id, j := range r.jobs {
		if j.reapable(now, retention) {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(id)
	}
	return len(ids)
}
