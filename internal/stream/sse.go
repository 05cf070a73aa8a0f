package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/goccy/go-json"
)

// DefaultHeartbeat is the idle interval after which a keep-alive is sent.
const DefaultHeartbeat = 15 * time.Second

// ServeSSE writes sub to w as a text/event-stream: an "open" event, one
// data frame per progress event, comment heartbeats while idle. It returns
// after the terminal frame or when the client goes away. Leaving early
// detaches sub and nothing else.
func ServeSSE(w http.ResponseWriter, r *http.Request, jobID string, sub *Subscription, heartbeat time.Duration) error {
	defer sub.Close()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.StreamSubscribers.WithLabelValues("sse").Inc()
	defer metrics.StreamSubscribers.WithLabelValues("sse").Dec()

	if _, err := fmt.Fprintf(w, "event: open\ndata: {\"jobId\":%q}\n\n", jobID); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return fmt.Errorf("streaming unsupported: %w", err)
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	ctx := r.Context()

	for {
		events, finished := sub.Drain()
		for _, ev := range events {
			if err := writeFrame(w, ev); err != nil {
				return err
			}
			metrics.StreamEventsSent.WithLabelValues("sse").Inc()
		}
		if len(events) > 0 {
			if err := rc.Flush(); err != nil {
				return err
			}
		}
		if finished {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-sub.Ready():
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, ev models.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
