package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"moltguard/internal/config"
	"moltguard/internal/support"
)

const (
	envSweepInterval = "RATE_WINDOW_SWEEP_INTERVAL"

	rateWindowSweepJob = "rate_window_sweep"
)

// WindowStore is satisfied by *database.RateWindowStore and
// *ratelimit.MemCounterStore.
type WindowStore interface {
	DeleteWindowsEndedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RateWindowSweep struct {
	store WindowStore
	now   func() time.Time
}

func NewRateWindowSweep(store WindowStore, now func() time.Time) *RateWindowSweep {
	if now == nil {
		now = time.Now
	}
	return &RateWindowSweep{store: store, now: now}
}

// StartRateWindowSweepRoutine sweeps periodically until ctx is done. With a
// redis client only the instance holding the sweep lease runs it.
func StartRateWindowSweepRoutine(ctx context.Context, client *redis.Client, sweep *RateWindowSweep) {
	if ctx == nil {
		ctx = context.Background()
	}

	err := support.NewScheduler(client, support.DefaultLeaseTTL).Run(ctx, sweep)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Rate window sweep routine stopped", "error", err)
	}
}

var _ support.ScheduledJob = (*RateWindowSweep)(nil)

func (s *RateWindowSweep) Name() string { return rateWindowSweepJob }

func (s *RateWindowSweep) Interval() time.Duration { return resolveSweepInterval() }

func resolveSweepInterval() time.Duration {
	interval := support.GetEnvDuration(envSweepInterval, 0)
	if interval > 0 {
		return interval
	}
	return config.GetConfig().Maintenance.SweepInterval()
}

// Sweep deletes windows that ended more than the retention horizon ago.
// The window currently in use always ends in the future and is never touched.
func (s *RateWindowSweep) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-config.GetConfig().Maintenance.Retention())
	return s.store.DeleteWindowsEndedBefore(ctx, cutoff)
}

// Run sweeps once and logs the outcome.
func (s *RateWindowSweep) Run(ctx context.Context) error {
	start := time.Now()

	removed, err := s.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep rate windows: %w", err)
	}
	if removed > 0 {
		log.Info("Rate window sweep completed", "windows_removed", removed, "duration", time.Since(start))
	}
	return nil
}
