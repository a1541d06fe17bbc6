package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"zip-drop/internal/artifact"
	"zip-drop/internal/audit"
	"zip-drop/internal/config"
	"zip-drop/internal/db"
	"zip-drop/internal/logging"
	"zip-drop/internal/server"
)

// shutdownTimeout bounds how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Error("backend exiting", nil, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	rec, closeDB, err := openRecorder(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	go artifact.StartSweeper(ctx, store, artifact.SweepConfig{
		Interval: cfg.SweepInterval,
		MaxAge:   cfg.StagingMaxAge,
	})

	srv := server.New(serverConfig(cfg), store, rec)

	// Start the HTTP server in a background goroutine.
	// This allows us to listen for OS signals while the server runs.
	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting", map[string]any{
			"addr":       cfg.Addr(),
			"backend":    cfg.StorageBackend,
			"max_upload": humanize.IBytes(uint64(cfg.MaxUploadBytes)),
			"history":    rec.Enabled(),
			"version":    cfg.Version,
			"env":        cfg.Env,
		})
		errCh <- srv.Start()
	}()

	// Set up signal handling for graceful shutdown on SIGINT (Ctrl+C) or SIGTERM (container stop).
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutting down", map[string]any{"signal": sig.String()})
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logging.Info("shutdown complete", nil)
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

// openStore builds the archive store selected by ZD_STORAGE_BACKEND.
func openStore(ctx context.Context, cfg config.Config) (artifact.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendLocal:
		return artifact.NewLocalStore(cfg.UploadDir)
	case config.BackendMinio:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return artifact.NewMinioStore(ctx, artifact.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// openRecorder connects the upload history when DATABASE_URL is set and
// runs its migrations. Without a database it returns audit.Nop.
func openRecorder(cfg config.Config) (audit.Recorder, func(), error) {
	if cfg.DatabaseURL == "" {
		return audit.Nop{}, func() {}, nil
	}

	conn, err := db.OpenDB(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	closeDB := func() { _ = conn.Close() }

	logging.Info("running migrations", nil)
	if err := db.RunMigrations(conn); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	logging.Info("migrations complete", nil)

	return audit.NewPostgresRecorder(conn), closeDB, nil
}

func serverConfig(cfg config.Config) server.Config {
	return server.Config{
		Addr:            cfg.Addr(),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		PublicDir:       cfg.PublicDir,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		UploadRateLimit: cfg.UploadRateLimit,
		UploadRateBurst: cfg.UploadRateBurst,
		Version:         cfg.Version,
	}
}
