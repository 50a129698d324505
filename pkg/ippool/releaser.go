package ippool

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/latticevpn/sessiond/internal/telemetry"
)

// Releaser periodically frees quarantined addresses whose hold has elapsed.
type Releaser struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	store    *Store
	logger   *slog.Logger
	interval time.Duration
}

// NewReleaser creates a Releaser. interval defaults to 10 seconds when zero.
func NewReleaser(pool *pgxpool.Pool, rdb *redis.Client, store *Store, logger *slog.Logger, interval time.Duration) *Releaser {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Releaser{pool: pool, rdb: rdb, store: store, logger: logger, interval: interval}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (r *Releaser) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Releaser) tick(ctx context.Context) {
	n, err := r.store.ReleaseExpiredQuarantine(ctx, r.pool)
	if err != nil {
		r.logger.Error("releasing expired quarantine", "error", err)
		return
	}
	if n == 0 {
		return
	}

	r.logger.Info("released quarantined addresses", "count", n)
	telemetry.IPPoolReleasedTotal.Add(float64(n))

	if r.rdb != nil {
		if err := r.rdb.Publish(ctx, "sessiond:events", "ip_released").Err(); err != nil {
			r.logger.Warn("publishing ip_released event", "error", err)
		}
	}
}
