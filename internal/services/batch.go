package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/metrics"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidRequest marks input rejected before a job is created.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSourceNotFound is returned when the source PDF is not in the bucket.
	ErrSourceNotFound = errors.New("source PDF not found")
	// ErrAllUploadsFailed fails a job in which no matched student could be stored.
	ErrAllUploadsFailed = errors.New("every upload failed")
)

// Trigger values recorded on run history.
const (
	TriggerAPI    = "api"
	TriggerObject = "object-finalize"
)

// DocumentOpener turns PDF bytes into a segmentable document.
// *segmenter.Segmenter implements it.
type DocumentOpener interface {
	Open(ctx context.Context, pdf []byte) (*segmenter.Document, error)
}

var _ DocumentOpener = (*segmenter.Segmenter)(nil)

type BatchConfig struct {
	// Concurrency bounds how many segments are rendered and uploaded at once.
	Concurrency int
	Policy      matcher.Policy
	// UpdateStudentSheet also writes the link into the student table's
	// "qr code" column when it exists.
	UpdateStudentSheet bool
	// DeleteSource removes the source PDF after a completed run.
	DeleteSource bool
}

// BatchDeps are the boundaries a batch job talks to. History may be nil.
type BatchDeps struct {
	Registry *jobs.Registry
	Objects  objectstore.Store
	Roster   roster.Store
	Files    filehost.Host
	Opener   DocumentOpener
	History  RunHistory
}

// BatchSource describes what a batch job processes and on whose behalf.
type BatchSource struct {
	ObjectKey   string
	Credentials models.Credentials
	UserEmail   string
	Trigger     string
	// SkipDuplicates completes the job without uploading when run history
	// already holds a completed run of the same file.
	SkipDuplicates bool
}

// BatchJobController turns a source PDF in the object store into uploaded QR
// files and roster links, one segment per student.
type BatchJobController struct {
	registry *jobs.Registry
	objects  objectstore.Store
	roster   roster.Store
	files    filehost.Host
	opener   DocumentOpener
	history  RunHistory
	matcher  *matcher.Matcher
	config   BatchConfig
}

func NewBatchJobController(deps BatchDeps, cfg BatchConfig) *BatchJobController {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &BatchJobController{
		registry: deps.Registry,
		objects:  deps.Objects,
		roster:   deps.Roster,
		files:    deps.Files,
		opener:   deps.Opener,
		history:  deps.History,
		matcher:  matcher.New(cfg.Policy),
		config:   cfg,
	}
}

// Start validates src, registers a job and processes it in the background.
// The job outlives ctx, which only bounds validation.
func (c *BatchJobController) Start(ctx context.Context, src BatchSource) (string, error) {
	if err := c.validate(ctx, src); err != nil {
		return "", err
	}
	job := c.registry.Create(models.JobKindBatch, src.ObjectKey)
	go func() {
		_ = c.Run(job, src)
	}()
	return job.ID, nil
}

// RunSync processes src on the calling goroutine and returns the summary.
// The job is still registered so it can be watched while it runs.
func (c *BatchJobController) RunSync(ctx context.Context, src BatchSource) (*models.Summary, error) {
	if err := c.validate(ctx, src); err != nil {
		return nil, err
	}
	job := c.registry.Create(models.JobKindBatch, src.ObjectKey)
	stop := context.AfterFunc(ctx, job.Cancel)
	defer stop()
	if err := c.Run(job, src); err != nil {
		return nil, err
	}
	return job.Snapshot().Summary, nil
}

func (c *BatchJobController) validate(ctx context.Context, src BatchSource) error {
	if err := objectstore.ValidateKey(src.ObjectKey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if src.Credentials.AccessToken == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, filehost.ErrNoAccessToken)
	}
	ok, err := c.objects.Exists(ctx, src.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to check source object: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, src.ObjectKey)
	}
	return nil
}

// segmentOutcome is the result of one segment. uploadErr is set when a
// matched student could not be stored.
type segmentOutcome struct {
	index     int
	label     string
	matched   bool
	uploaded  bool
	uploadErr error
}

// Run drives job through its phases and ends it with exactly one terminal
// event. Per-student failures are tallied; anything else fails the job.
func (c *BatchJobController) Run(job *jobs.Job, src BatchSource) error {
	ctx := job.Context()
	logCtx := slog.With("jobId", job.ID, "sourceObject", src.ObjectKey)
	if !job.Start() {
		return fmt.Errorf("job %s already started", job.ID)
	}
	logCtx.Info("Batch job started.", "trigger", src.Trigger)

	job.Report(5, "Downloading PDF")
	data, err := objectstore.ReadAll(ctx, c.objects, src.ObjectKey)
	if err != nil {
		return c.fail(logCtx, job, "failed to fetch source PDF", err)
	}
	hash := fileHash(data)
	if src.SkipDuplicates {
		if prev, ok := c.findDuplicate(ctx, logCtx, hash); ok {
			logCtx.Info("Duplicate file detected. Skipping.", "existingJobId", prev)
			// Nothing is segmented, so the counts stay zero.
			summary, _ := summarize(nil)
			job.Complete(models.ProgressEvent{
				Message: "Already processed by job " + prev,
				Status:  string(models.JobCompleted),
				Summary: &summary,
			})
			return nil
		}
	}
	c.beginHistory(logCtx, job, src, hash)

	job.Report(15, "Splitting PDF")
	doc, err := c.opener.Open(ctx, data)
	if err != nil {
		return c.fail(logCtx, job, "failed to open source PDF", err)
	}
	defer doc.Close()
	logCtx = logCtx.With("pageCount", doc.PageCount())

	job.Report(25, "Reading student roster")
	table, err := c.roster.ReadStudents(ctx)
	if err != nil {
		return c.fail(logCtx, job, "failed to read student roster", err)
	}
	snapshot, err := matcher.NewRoster(table)
	if err != nil {
		return c.fail(logCtx, job, "invalid student roster", err)
	}
	logCtx.Info("Roster snapshot taken.", "students", snapshot.Len()-1)

	outcomes, err := c.processSegments(ctx, logCtx, job, doc, snapshot, src.Credentials)
	if err != nil {
		return c.fail(logCtx, job, "failed to process segments", err)
	}
	if err := ctx.Err(); err != nil {
		return c.fail(logCtx, job, "batch job interrupted", err)
	}

	summary, firstUploadErr := summarize(outcomes)
	if summary.MatchedStudents > 0 && summary.SuccessfulUploads == 0 {
		return c.fail(logCtx, job, ErrAllUploadsFailed.Error(), firstUploadErr)
	}

	c.finishHistory(logCtx, job.ID, models.RunStatusCompleted, &summary, "")
	if c.config.DeleteSource {
		if err := c.objects.Delete(context.WithoutCancel(ctx), src.ObjectKey); err != nil {
			logCtx.Warn("Failed to delete source PDF.", "error", err)
		}
	}

	logCtx.Info("Batch job completed.",
		"totalStudents", summary.TotalStudentsInPDF,
		"matched", summary.MatchedStudents,
		"uploaded", summary.SuccessfulUploads,
		"failed", summary.FailedUploads,
	)
	job.Complete(models.ProgressEvent{
		Message: fmt.Sprintf("Uploaded %d of %d QR codes", summary.SuccessfulUploads, summary.TotalStudentsInPDF),
		Status:  string(models.JobCompleted),
		Summary: &summary,
	})
	return nil
}

// processSegments matches and uploads every segment, at most
// Concurrency at a time. Progress moves from 25 to 95 by pages done.
func (c *BatchJobController) processSegments(ctx context.Context, logCtx *slog.Logger, job *jobs.Job, doc *segmenter.Document, snapshot *matcher.Roster, creds models.Credentials) ([]segmentOutcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	var (
		mu        sync.Mutex
		outcomes  []segmentOutcome
		pagesDone int
	)
	pageCount := max(doc.PageCount(), 1)

	for seg, err := range doc.Segments(gctx) {
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		g.Go(func() error {
			out := c.processSegment(gctx, logCtx, doc, seg, snapshot, creds)

			mu.Lock()
			outcomes = append(outcomes, out)
			pagesDone += seg.LastPage - seg.FirstPage + 1
			job.Report(25+70*pagesDone/pageCount, fmt.Sprintf("Processed %d students", len(outcomes)))
			mu.Unlock()

			// An expired token fails every remaining upload the same way.
			if errors.Is(out.uploadErr, filehost.ErrAuthExpired) {
				return out.uploadErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].index < outcomes[j].index })
	return outcomes, nil
}

func (c *BatchJobController) processSegment(ctx context.Context, logCtx *slog.Logger, doc *segmenter.Document, seg *segmenter.Segment, snapshot *matcher.Roster, creds models.Credentials) segmentOutcome {
	out := segmentOutcome{index: seg.Index, label: seg.Label()}
	logCtx = logCtx.With("segment", seg.Index+1, "firstPage", seg.FirstPage)

	if seg.Token == nil {
		logCtx.Warn("No student token found in segment.", "error", seg.Err)
		metrics.SegmentsProcessed.WithLabelValues("no_token").Inc()
		return out
	}

	res := c.matcher.Match(seg.Token, snapshot)
	switch res.Status {
	case models.MatchMatched:
	case models.MatchAmbiguous:
		logCtx.Warn("Student name matches several roster rows.", "studentName", seg.Token.Name, "candidates", res.Candidates)
		metrics.SegmentsProcessed.WithLabelValues("ambiguous").Inc()
		return out
	default:
		logCtx.Warn("Student not found in roster.", "studentName", seg.Token.Name)
		metrics.SegmentsProcessed.WithLabelValues("unmatched").Inc()
		return out
	}
	out.matched = true
	out.label = res.FullName
	logCtx = logCtx.With("studentId", res.StudentID)

	url, err := c.store(ctx, doc, seg, res, snapshot, creds)
	if err != nil {
		logCtx.Error("Failed to store QR code.", "error", err)
		metrics.SegmentsProcessed.WithLabelValues("upload_failed").Inc()
		out.uploadErr = err
		return out
	}
	logCtx.Info("QR code stored.", "url", url)
	metrics.SegmentsProcessed.WithLabelValues("uploaded").Inc()
	out.uploaded = true
	return out
}

// store renders seg, uploads it and records the link for the student.
func (c *BatchJobController) store(ctx context.Context, doc *segmenter.Document, seg *segmenter.Segment, res models.MatchResult, snapshot *matcher.Roster, creds models.Credentials) (string, error) {
	rendering, err := doc.Render(ctx, seg)
	if err != nil {
		return "", err
	}
	url, err := c.files.Upload(ctx, filehost.File{
		Data:        rendering.Data,
		MimeType:    rendering.MimeType,
		StudentID:   res.StudentID,
		FullName:    res.FullName,
		Timestamped: true,
	}, creds)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	if _, err := c.roster.UpsertQRCode(ctx, res.StudentID, url); err != nil {
		return "", fmt.Errorf("record QR link: %w", err)
	}

	if col := snapshot.Columns().QRCode; c.config.UpdateStudentSheet && col >= 0 {
		if err := c.roster.UpdateStudentCell(ctx, res.RowIndex, col, url); err != nil {
			slog.Warn("Failed to update student sheet QR column.", "studentId", res.StudentID, "error", err)
		}
	}
	return url, nil
}

func summarize(outcomes []segmentOutcome) (models.Summary, error) {
	s := models.Summary{
		TotalStudentsInPDF: len(outcomes),
		UploadedStudents:   []string{},
		FailedStudents:     []string{},
	}
	var firstErr error
	for _, o := range outcomes {
		if o.matched {
			s.MatchedStudents++
		}
		if o.uploaded {
			s.SuccessfulUploads++
			s.UploadedStudents = append(s.UploadedStudents, o.label)
			continue
		}
		s.FailedUploads++
		s.FailedStudents = append(s.FailedStudents, o.label)
		if firstErr == nil && o.uploadErr != nil {
			firstErr = o.uploadErr
		}
	}
	return s, firstErr
}

// fail ends job with a terminal error event and records the failure on the
// run history.
func (c *BatchJobController) fail(logCtx *slog.Logger, job *jobs.Job, message string, originalErr error) error {
	fullErr := fmt.Errorf("%s: %w", message, originalErr)
	status := models.RunStatusFailed
	if job.Context().Err() != nil {
		status = models.RunStatusCancelled
		logCtx.Warn("Batch job cancelled.", "error", originalErr)
	} else {
		logCtx.Error(message, "error", originalErr)
	}
	c.finishHistory(logCtx, job.ID, status, nil, fullErr.Error())
	job.Fail(fullErr)
	return fullErr
}

func (c *BatchJobController) findDuplicate(ctx context.Context, logCtx *slog.Logger, hash string) (string, bool) {
	if c.history == nil {
		return "", false
	}
	prev, ok, err := c.history.FindByHash(ctx, hash)
	if err != nil {
		logCtx.Warn("Failed to check for duplicate run.", "error", err)
		return "", false
	}
	return prev, ok
}

func (c *BatchJobController) beginHistory(logCtx *slog.Logger, job *jobs.Job, src BatchSource, hash string) {
	if c.history == nil {
		return
	}
	err := c.history.Begin(context.WithoutCancel(job.Context()), models.BatchRun{
		JobID:           job.ID,
		SourceObjectKey: src.ObjectKey,
		FileHash:        hash,
		UserEmail:       src.UserEmail,
		Trigger:         src.Trigger,
	})
	if err != nil {
		logCtx.Warn("Failed to record batch run start.", "error", err)
	}
}

func (c *BatchJobController) finishHistory(logCtx *slog.Logger, jobID, status string, summary *models.Summary, errDetails string) {
	if c.history == nil {
		return
	}
	if err := c.history.Finish(context.Background(), jobID, status, summary, errDetails); err != nil {
		logCtx.Error("CRITICAL: Failed to update batch run status.", "status", status, "error", err)
	}
}
