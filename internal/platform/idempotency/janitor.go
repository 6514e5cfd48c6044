package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically removes expired keys from a Store.
type Janitor struct {
	store    Store
	interval time.Duration
	batch    int
	clock    func() time.Time
	logger   *zap.Logger
}

// NewJanitor builds a janitor sweeping at interval, deleting at most batch keys per sweep.
func NewJanitor(store Store, interval time.Duration, batch int, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:    store,
		interval: interval,
		batch:    batch,
		clock:    time.Now,
		logger:   logger.Named("idempotency_janitor"),
	}
}

// Run sweeps until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j == nil || j.store == nil {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep deletes expired keys batch by batch until a batch comes back short.
func (j *Janitor) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		removed, err := j.store.CleanupExpired(ctx, j.clock(), j.batch)
		if err != nil {
			j.logger.Warn("cleanup failed", zap.Error(err), zap.Int("removed", total))
			return total
		}
		total += removed
		if j.batch <= 0 || removed < j.batch {
			break
		}
	}
	if total > 0 {
		j.logger.Info("expired keys removed", zap.Int("removed", total))
	}
	return total
}
