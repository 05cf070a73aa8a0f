package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/goccy/go-json"
	"github.com/googleapis/gax-go/v2"
)

// ErrWorkflowFailed is returned when a check-in execution ends in any state
// other than SUCCEEDED.
var ErrWorkflowFailed = errors.New("check-in workflow failed")

// executionsAPI is the subset of the Workflows Executions client the runner uses.
type executionsAPI interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
	GetExecution(ctx context.Context, req *executionspb.GetExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

type WorkflowConfig struct {
	ProjectID    string
	Location     string
	WorkflowID   string
	PollInterval time.Duration
}

// WorkflowRunner performs a remote check-in by executing a Cloud Workflow
// and polling it until it leaves the ACTIVE state.
type WorkflowRunner struct {
	client executionsAPI
	closer func() error
	config WorkflowConfig
}

func NewWorkflowRunner(ctx context.Context, cfg WorkflowConfig) (*WorkflowRunner, error) {
	if cfg.ProjectID == "" || cfg.WorkflowID == "" {
		return nil, fmt.Errorf("NewWorkflowRunner: projectID and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	r := newWorkflowRunner(client, cfg)
	r.closer = client.Close
	slog.Info("Check-in workflow runner initialized.", "workflowId", cfg.WorkflowID, "location", r.config.Location)
	return r, nil
}

func newWorkflowRunner(client executionsAPI, cfg WorkflowConfig) *WorkflowRunner {
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &WorkflowRunner{client: client, config: cfg}
}

func (r *WorkflowRunner) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", r.config.ProjectID, r.config.Location, r.config.WorkflowID)
}

// Run starts the workflow with the check-in request as its argument and
// returns the qrCode field of the workflow result, if any. report receives
// progress in the 10..90 range while the execution is active.
func (r *WorkflowRunner) Run(ctx context.Context, req models.CheckInRequest, report func(progress int, message string)) (string, error) {
	logCtx := slog.With("studentId", req.StudentID, "workflowId", r.config.WorkflowID)

	payload, err := json.Marshal(map[string]string{
		"studentId": req.StudentID,
		"qrCodeUrl": req.QRCodeURL,
		"region":    req.Region,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	exec, err := r.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    r.parent(),
		Execution: &executionspb.Execution{Argument: string(payload)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx = logCtx.With("execution", exec.GetName())
	logCtx.Info("Check-in workflow started.")
	report(10, "Check-in started")

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		switch exec.GetState() {
		case executionspb.Execution_SUCCEEDED:
			logCtx.Info("Check-in workflow succeeded.")
			return resultQRCode(exec.GetResult()), nil
		case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED, executionspb.Execution_UNAVAILABLE:
			msg := exec.GetError().GetPayload()
			logCtx.Error("Check-in workflow did not succeed.", "state", exec.GetState().String(), "error", msg)
			if msg == "" {
				msg = strings.ToLower(exec.GetState().String())
			}
			return "", fmt.Errorf("%w: %s", ErrWorkflowFailed, msg)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		exec, err = r.client.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: exec.GetName()})
		if err != nil {
			return "", fmt.Errorf("failed to poll workflow execution: %w", err)
		}
		report(min(10+polls*5, 90), stepMessage(exec))
	}
}

func stepMessage(exec *executionspb.Execution) string {
	steps := exec.GetStatus().GetCurrentSteps()
	if len(steps) == 0 {
		return "Checking in"
	}
	return "Running step " + steps[len(steps)-1].GetStep()
}

// resultQRCode reads qrCode from a JSON object result. A bare JSON string
// result is taken as the code itself.
func resultQRCode(result string) string {
	if result == "" {
		return ""
	}
	var obj struct {
		QRCode string `json:"qrCode"`
	}
	if err := json.Unmarshal([]byte(result), &obj); err == nil {
		return obj.QRCode
	}
	var s string
	if err := json.Unmarshal([]byte(result), &s); err == nil {
		return s
	}
	return ""
}

func (r *WorkflowRunner) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}
