package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
)

// ErrStudentNotFound is returned when a check-in names an unknown student id.
var ErrStudentNotFound = errors.New("student not found")

// CheckInRunner performs the remote check-in for one student. It reports
// intermediate progress through report and returns a QR code link when the
// remote side produced one.
type CheckInRunner interface {
	Run(ctx context.Context, req models.CheckInRequest, report func(progress int, message string)) (string, error)
}

// CheckInController runs single-student check-ins as jobs with the same
// start and stream contract as batch jobs.
type CheckInController struct {
	registry *jobs.Registry
	runner   CheckInRunner
	roster   roster.Store
	timeout  time.Duration
}

// CheckInOption configures a CheckInController.
type CheckInOption func(*CheckInController)

// WithCheckInTimeout bounds each runner call. Zero means no bound beyond the
// job's own lifetime.
func WithCheckInTimeout(d time.Duration) CheckInOption {
	return func(c *CheckInController) { c.timeout = d }
}

func NewCheckInController(registry *jobs.Registry, runner CheckInRunner, store roster.Store, opts ...CheckInOption) *CheckInController {
	c := &CheckInController{registry: registry, runner: runner, roster: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CheckInController) Start(_ context.Context, req models.CheckInRequest) (string, error) {
	req.StudentID = strings.TrimSpace(req.StudentID)
	if req.StudentID == "" {
		return "", fmt.Errorf("%w: studentId is required", ErrInvalidRequest)
	}
	job := c.registry.Create(models.JobKindCheckIn, "")
	go c.run(job, req)
	return job.ID, nil
}

func (c *CheckInController) run(job *jobs.Job, req models.CheckInRequest) {
	ctx := job.Context()
	logCtx := slog.With("jobId", job.ID, "studentId", req.StudentID)
	job.Start()
	job.Report(5, "Starting check-in")

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	qr, err := c.runner.Run(runCtx, req, job.Report)
	if err != nil {
		logCtx.Error("Check-in failed.", "error", err)
		job.Fail(fmt.Errorf("check-in failed: %w", err))
		return
	}

	if qr == "" {
		qr = c.lookupQRCode(ctx, logCtx, req.StudentID)
	}
	if qr == "" {
		qr = req.QRCodeURL
	}
	logCtx.Info("Check-in completed.", "hasQRCode", qr != "")
	job.Complete(models.ProgressEvent{Message: "Check-in complete", Status: string(models.JobCompleted), QRCode: qr})
}

func (c *CheckInController) lookupQRCode(ctx context.Context, logCtx *slog.Logger, studentID string) string {
	table, err := c.roster.ReadQRCodes(ctx)
	if err != nil {
		logCtx.Warn("Failed to read QR table for check-in result.", "error", err)
		return ""
	}
	url, _ := roster.FindQRCode(table, studentID)
	return url
}

// RosterCheckIn records attendance directly in the student table by writing
// today's date into the "last attendance date" column. It serves
// deployments without a check-in workflow.
type RosterCheckIn struct {
	store roster.Store
	now   func() time.Time
}

func NewRosterCheckIn(store roster.Store) *RosterCheckIn {
	return &RosterCheckIn{store: store, now: time.Now}
}

func (r *RosterCheckIn) Run(ctx context.Context, req models.CheckInRequest, report func(int, string)) (string, error) {
	report(20, "Reading student roster")
	table, err := r.store.ReadStudents(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read student roster: %w", err)
	}
	snapshot, err := matcher.NewRoster(table)
	if err != nil {
		return "", err
	}

	cols := snapshot.Columns()
	row := -1
	for i := 1; i < snapshot.Len(); i++ {
		if snapshot.Cell(i, cols.StudentID) == req.StudentID {
			row = i
			break
		}
	}
	if row < 0 {
		return "", fmt.Errorf("%w: %s", ErrStudentNotFound, req.StudentID)
	}

	if cols.LastAttendance >= 0 {
		report(60, "Recording attendance")
		if err := r.store.UpdateStudentCell(ctx, row, cols.LastAttendance, r.now().Format("2006-01-02")); err != nil {
			return "", fmt.Errorf("failed to record attendance: %w", err)
		}
	}
	report(90, "Attendance recorded for "+snapshot.FullName(row))
	return snapshot.Student(row).QRCode, nil
}
