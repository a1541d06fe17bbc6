package artifact

import (
	"context"
	"time"

	"zip-drop/internal/logging"
)

// SweepConfig holds configuration for the staging sweeper.
type SweepConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// StartSweeper removes stale staging blobs once immediately and then on
// every tick until ctx is cancelled. It blocks; run it in a goroutine.
func StartSweeper(ctx context.Context, s Store, cfg SweepConfig) {
	if cfg.Interval <= 0 || cfg.MaxAge <= 0 {
		logging.Info("staging sweeper disabled", nil)
		return
	}

	logging.Info("staging sweeper starting", map[string]any{
		"interval": cfg.Interval.String(),
		"max_age":  cfg.MaxAge.String(),
	})

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	runSweep(ctx, s, cfg.MaxAge)

	for {
		select {
		case <-ctx.Done():
			logging.Info("staging sweeper shutting down", nil)
			return
		case <-ticker.C:
			runSweep(ctx, s, cfg.MaxAge)
		}
	}
}

func runSweep(ctx context.Context, s Store, maxAge time.Duration) {
	start := time.Now()

	removed, err := s.SweepStaging(ctx, maxAge)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Error("staging sweep failed", map[string]any{"removed": removed}, err)
		return
	}

	if removed > 0 {
		logging.Info("staging sweep complete", map[string]any{
			"removed":     removed,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}
