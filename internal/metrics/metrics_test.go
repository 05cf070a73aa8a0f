package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	RecordAPIRequest("GET", "/healthz", 200, 3*time.Millisecond)
	RecordAPIRequest("GET", "/healthz", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/healthz", "200")); got != before+2 {
		t.Errorf("requests = %v, want %v", got, before+2)
	}
}

func TestRecordJobFinished(t *testing.T) {
	before := testutil.ToFloat64(JobsFinished.WithLabelValues("batch", "completed"))
	RecordJobFinished("batch", "completed", 2*time.Second)
	if got := testutil.ToFloat64(JobsFinished.WithLabelValues("batch", "completed")); got != before+1 {
		t.Errorf("finished = %v, want %v", got, before+1)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	before := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("drive-upload-test", "closed", "open"))
	RecordBreakerTransition("drive-upload-test", gobreaker.StateClosed, gobreaker.StateOpen)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("drive-upload-test")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
	RecordBreakerTransition("drive-upload-test", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("drive-upload-test")); got != 1 {
		t.Errorf("state gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CircuitBreakerTransitions.WithLabelValues("drive-upload-test", "closed", "open")); got != before+1 {
		t.Errorf("transitions = %v, want %v", got, before+1)
	}
}
