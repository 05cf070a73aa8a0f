// Command checkin-server runs the check-in backend: batch QR upload jobs,
// single check-ins, progress streams and the admin endpoints.
//
// Configuration comes from built-in defaults, then config.yaml (or the file
// named by CONFIG_PATH), then environment variables. SIGINT and SIGTERM
// stop the supervisor tree, which shuts the HTTP server down gracefully and
// cancels running jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/mathcheckin/internal/api"
	"github.com/Lllllllleong/mathcheckin/internal/app"
	"github.com/Lllllllleong/mathcheckin/internal/config"
	"github.com/Lllllllleong/mathcheckin/internal/jobs"
	"github.com/Lllllllleong/mathcheckin/internal/logging"
	"github.com/Lllllllleong/mathcheckin/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(logging.NewSlogHandler()).Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := slog.New(logging.NewSlogHandler())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped with error.", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped.")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Failed to close clients.", "error", err)
		}
	}()

	handler := api.NewHandler(api.Deps{
		Auth:     a.Auth,
		Registry: a.Registry,
		Batch:    a.Batch,
		CheckIn:  a.CheckIn,
		QRUpload: a.QRUpload,
		Images:   a.Images,
		Objects:  a.Objects,
		Roster:   a.Roster,
	}, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StartRateLimit: cfg.Server.StartRateLimit,
		PresignTTL:     cfg.ObjectStore.PresignTTL,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddJobService(jobs.NewReaper(a.Registry, cfg.Jobs.ReapInterval, cfg.Jobs.Retention))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	logger.Info("Starting server.", "addr", cfg.Server.Addr)
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logger.Warn("Services did not stop in time.", "count", len(report))
	}
	return nil
}
