// Package gc runs the periodic sweep of the expiring in-memory stores.
package gc

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/termgate-dev/termgate/internal/logger"
)

// Sweeper is any store with TTL-based entries.
type Sweeper interface {
	Sweep(now time.Time)
}

// Loop sweeps the registered stores on a fixed cadence. Latency is not
// critical; a missed tick just means entries linger slightly longer.
type Loop struct {
	cron     *cron.Cron
	sweepers []Sweeper
}

// NewLoop creates a GC loop over the given stores, ticking every minute.
func NewLoop(sweepers ...Sweeper) *Loop {
	return &Loop{
		cron:     cron.New(),
		sweepers: sweepers,
	}
}

// Start schedules the sweep and starts the cron runner.
func (l *Loop) Start() error {
	_, err := l.cron.AddFunc("@every 1m", l.SweepNow)
	if err != nil {
		return err
	}
	l.cron.Start()
	return nil
}

// Stop halts the cron runner. Does not wait for a running sweep.
func (l *Loop) Stop() {
	l.cron.Stop()
}

// SweepNow runs one sweep pass over every store.
func (l *Loop) SweepNow() {
	now := time.Now()
	for _, s := range l.sweepers {
		s.Sweep(now)
	}
	logger.Log.Debug().Msg("GC sweep complete")
}
