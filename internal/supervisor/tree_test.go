package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/models"
)

type fakeServer struct {
	mu       sync.Mutex
	started  chan struct{}
	stop     chan struct{}
	listen   error
	shutdown bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}), stop: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	close(s.started)
	if s.listen != nil {
		return s.listen
	}
	<-s.stop
	return nil
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown {
		s.shutdown = true
		close(s.stop)
	}
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if !srv.shutdown {
		t.Error("Shutdown not called")
	}
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := newFakeServer()
	srv.listen = errors.New("address already in use")
	err := NewHTTPService(srv, 0).Serve(context.Background())
	if err == nil || err.Error() != "http server failed: address already in use" {
		t.Errorf("err = %v", err)
	}
}

func TestTreeRunsReaperAndServer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree(logger, TreeConfig{ShutdownTimeout: time.Second})

	reg := jobs.NewRegistry(context.Background())
	job := reg.Create(models.JobKindBatch, "k.pdf")
	job.Start()
	job.Complete(models.ProgressEvent{Message: "Done"})

	tree.AddJobService(jobs.NewReaper(reg, 5*time.Millisecond, 0))
	srv := newFakeServer()
	tree.AddAPIService(NewHTTPService(srv, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	<-srv.started
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reg.Len() != 0 {
		t.Error("reaper did not remove the finished job")
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	if report, _ := tree.UnstoppedServiceReport(); len(report) != 0 {
		t.Errorf("unstopped = %v", report)
	}
}
