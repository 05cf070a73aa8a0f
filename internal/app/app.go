// Package app assembles the check-in backend from its configuration. Both
// the HTTP server and the object-finalize function build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Lllllllleong/mathcheckin/internal/auth"
	"github.com/Lllllllleong/mathcheckin/internal/config"
	"github.com/Lllllllleong/mathcheckin/internal/filehost"
	"github.com/Lllllllleong/mathcheckin/internal/gcp"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/matcher"
	"github.com/Lllllllleong/mathcheckin/internal/objectstore"
	"github.com/Lllllllleong/mathcheckin/internal/roster"
	"github.com/Lllllllleong/mathcheckin/internal/segmenter"
	"github.com/Lllllllleong/mathcheckin/internal/services"
)

// App holds the wired components. Close releases the cloud clients.
type App struct {
	Config   *config.Config
	Auth     *auth.Authenticator
	Registry *jobs.Registry
	Objects  objectstore.Store
	Roster   roster.Store
	Files    *filehost.Drive
	Batch    *services.BatchJobController
	CheckIn  *services.CheckInController
	QRUpload *services.QRUploadService
	Images   *services.ImageResolver

	stopJobs context.CancelFunc
	closers  []io.Closer
}

// New builds every component named by cfg. ctx bounds client construction
// and becomes the parent of all job contexts.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	store, err := a.newRoster(ctx)
	if err != nil {
		return err
	}
	a.Roster = store

	objects, err := a.newObjectStore(ctx)
	if err != nil {
		return err
	}
	a.Objects = objects

	a.Files = a.newFileHost(ctx)

	var segOpts []segmenter.Option
	if cfg.Vertex.Enabled {
		vc, err := gcp.NewVertexClient(ctx, cfg.Google.ProjectID, cfg.Vertex.Region, cfg.Vertex.Model)
		if err != nil {
			return fmt.Errorf("failed to create Vertex AI client: %w", err)
		}
		a.closers = append(a.closers, vc)
		segOpts = append(segOpts, segmenter.WithTokenReader(vc))
	}
	seg := segmenter.New(segmenter.Config{
		Mode:            segmenter.Mode(cfg.Jobs.SegmentMode),
		PagesPerStudent: cfg.Jobs.PagesPerStudent,
		Marker:          cfg.Jobs.Marker,
	}, segOpts...)

	var history services.RunHistory
	if cfg.History.Enabled {
		client, err := gcp.NewFirestoreClient(ctx, cfg.Google.ProjectID, "")
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client)
		history = services.NewFirestoreHistory(client, cfg.History.Collection)
	}

	policy := matcher.FirstWins
	if cfg.Jobs.ReportAmbiguous {
		policy = matcher.ReportAmbiguous
	}

	jobsCtx, stop := context.WithCancel(ctx)
	a.stopJobs = stop
	a.Registry = jobs.NewRegistry(jobsCtx)
	a.Batch = services.NewBatchJobController(services.BatchDeps{
		Registry: a.Registry,
		Objects:  objects,
		Roster:   store,
		Files:    a.Files,
		Opener:   seg,
		History:  history,
	}, services.BatchConfig{
		Concurrency:        cfg.Jobs.Concurrency,
		Policy:             policy,
		UpdateStudentSheet: cfg.Jobs.UpdateStudentSheet,
		DeleteSource:       cfg.Jobs.DeleteSource,
	})

	runner, err := a.newCheckInRunner(ctx)
	if err != nil {
		return err
	}
	a.CheckIn = services.NewCheckInController(a.Registry, runner, store,
		services.WithCheckInTimeout(cfg.CheckIn.Timeout))
	a.QRUpload = services.NewQRUploadService(store, a.Files, seg, policy)
	a.Images = services.NewImageResolver(store, a.Files, seg)
	a.Auth = auth.New(cfg.Auth.APIKey, cfg.Auth.SessionSecret, cfg.Auth.ApprovedUsers)

	slog.Info("Application initialized.",
		"rosterBackend", cfg.Roster.Backend,
		"objectBackend", cfg.ObjectStore.Backend,
		"segmentMode", cfg.Jobs.SegmentMode,
		"history", history != nil,
		"vertex", cfg.Vertex.Enabled,
	)
	return nil
}

func (a *App) newRoster(ctx context.Context) (roster.Store, error) {
	rc := a.Config.Roster
	switch rc.Backend {
	case "xlsx":
		return roster.NewXLSXStore(rc.XLSXPath, rc.StudentSheet, rc.QRCodeSheet), nil
	default:
		id, err := rc.SpreadsheetID()
		if err != nil {
			return nil, err
		}
		svc, err := gcp.NewSheetsService(ctx)
		if err != nil {
			return nil, err
		}
		return roster.NewSheetsStore(svc, id, rc.StudentSheet, rc.QRCodeSheet), nil
	}
}

func (a *App) newObjectStore(ctx context.Context) (objectstore.Store, error) {
	oc := a.Config.ObjectStore
	switch oc.Backend {
	case "s3":
		s, err := objectstore.NewS3(objectstore.S3Config{
			Bucket:    oc.Bucket,
			AccountID: oc.S3.AccountID,
			Endpoint:  oc.S3.Endpoint,
			Region:    oc.S3.Region,
			AccessKey: oc.S3.AccessKey,
			SecretKey: oc.S3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 object store: %w", err)
		}
		return s, nil
	case "memory":
		slog.Warn("Using the in-memory object store. Uploaded PDFs do not survive a restart.")
		return objectstore.NewMemory("memory://" + oc.Bucket), nil
	default:
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return objectstore.NewGCS(client, oc.Bucket), nil
	}
}

// newFileHost builds the Drive host. Without a service-credential reader
// uploads still work and only image display is unavailable.
func (a *App) newFileHost(ctx context.Context) *filehost.Drive {
	cfg := a.Config
	var opts []filehost.Option
	reader, err := gcp.NewDriveReader(ctx)
	if err != nil {
		slog.Warn("Drive reader unavailable. QR image display is disabled.", "error", err)
	} else {
		opts = append(opts, filehost.WithReader(reader))
	}
	return filehost.NewDrive(filehost.Config{
		FolderID:         cfg.Drive.FolderID,
		ClientID:         cfg.Google.ClientID,
		ClientSecret:     cfg.Google.ClientSecret,
		TokenURL:         cfg.Google.TokenURL,
		UploadsPerSecond: cfg.Drive.UploadsPerSecond,
		UploadBurst:      cfg.Drive.UploadBurst,
	}, opts...)
}

func (a *App) newCheckInRunner(ctx context.Context) (services.CheckInRunner, error) {
	cc := a.Config.CheckIn
	if cc.WorkflowID == "" {
		return services.NewRosterCheckIn(a.Roster), nil
	}
	runner, err := gcp.NewWorkflowRunner(ctx, gcp.WorkflowConfig{
		ProjectID:    a.Config.Google.ProjectID,
		Location:     cc.WorkflowLocation,
		WorkflowID:   cc.WorkflowID,
		PollInterval: cc.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, runner)
	return runner, nil
}

// Close cancels running jobs and releases cloud clients.
func (a *App) Close() error {
	if a.stopJobs != nil {
		a.stopJobs()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
