// Command qr-ingest is a Cloud Function fired when an object is finalized in
// the upload bucket. PDFs under the ingest prefix are run as batch jobs with
// the function's own Drive credentials, so scanners and scheduled exports
// can feed the pipeline without a browser session.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"github.com/Lllllllleong/mathcheckin/internal/app"
	"github.com/Lllllllleong/mathcheckin/internal/config"
	"github.com/Lllllllleong/mathcheckin/internal/logging"
	"github.com/Lllllllleong/mathcheckin/internal/models"
	"github.com/Lllllllleong/mathcheckin/internal/services"
)

// GCSEvent is the payload of a storage object-finalize CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

type ingester struct {
	cfg    *config.Config
	app    *app.App
	tokens oauth2.TokenSource
}

var (
	instance *ingester
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(slog.New(logging.NewSlogHandler()))
	functions.CloudEvent("IngestQRBatch", ingestQRBatch)
}

// main is required by the Go Functions Framework.
func main() {}

func ingestQRBatch(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		instance, initErr = newIngester(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization.", "error", initErr)
		return initErr
	}

	var ev GCSEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Failed to unmarshal event data.", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}
	return instance.process(ctx, ev)
}

func newIngester(ctx context.Context) (*ingester, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	tokens, err := google.DefaultTokenSource(ctx, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to find service credentials: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("QR ingest function initialized.", "bucket", cfg.ObjectStore.Bucket, "prefix", cfg.Jobs.IngestPrefix)
	return &ingester{cfg: cfg, app: a, tokens: tokens}, nil
}

// accepts reports whether the event names a PDF this function should run.
func (in *ingester) accepts(ev GCSEvent) bool {
	if ev.Bucket != in.cfg.ObjectStore.Bucket {
		return false
	}
	if !strings.HasPrefix(ev.Name, in.cfg.Jobs.IngestPrefix) {
		return false
	}
	return ev.ContentType == "" || ev.ContentType == "application/pdf"
}

func (in *ingester) process(ctx context.Context, ev GCSEvent) error {
	logCtx := slog.With("gcsBucket", ev.Bucket, "gcsObject", ev.Name)
	if !in.accepts(ev) {
		logCtx.Info("Object outside the ingest prefix. Skipping.")
		return nil
	}

	tok, err := in.tokens.Token()
	if err != nil {
		logCtx.Error("Failed to mint Drive access token.", "error", err)
		return fmt.Errorf("failed to mint Drive access token: %w", err)
	}

	summary, err := in.app.Batch.RunSync(ctx, services.BatchSource{
		ObjectKey:      ev.Name,
		Credentials:    models.Credentials{AccessToken: tok.AccessToken},
		Trigger:        services.TriggerObject,
		SkipDuplicates: true,
	})
	if err != nil {
		logCtx.Error("Batch run failed.", "error", err)
		return err
	}
	logCtx.Info("Batch run finished.",
		"totalStudents", summary.TotalStudentsInPDF,
		"uploaded", summary.SuccessfulUploads,
		"failed", summary.FailedUploads,
	)
	return nil
}
