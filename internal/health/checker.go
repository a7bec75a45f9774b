package health

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Checker tracks remote store connectivity. Routers consult the flag to
// short-circuit remote attempts when the store is already known down,
// avoiding pointless timeouts on the event path.
type Checker struct {
	db        *sql.DB
	interval  time.Duration
	logger    *zap.Logger
	connected atomic.Bool
}

// NewChecker creates a connectivity checker. The flag starts pessimistic
// until the first ping succeeds.
func NewChecker(db *sql.DB, interval time.Duration, logger *zap.Logger) *Checker {
	return &Checker{
		db:       db,
		interval: interval,
		logger:   logger,
	}
}

// Connected reports the last observed remote store state.
func (c *Checker) Connected() bool {
	return c.connected.Load()
}

// Check pings the remote store once and updates the flag.
func (c *Checker) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.db.PingContext(pingCtx)
	up := err == nil

	if up != c.connected.Load() {
		if up {
			c.logger.Info("Remote store reachable")
		} else {
			c.logger.Warn("Remote store unreachable", zap.Error(err))
		}
	}
	c.connected.Store(up)
	return up
}

// Run checks connectivity on a fixed schedule until the context ends.
func (c *Checker) Run(ctx context.Context) {
	c.Check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}
