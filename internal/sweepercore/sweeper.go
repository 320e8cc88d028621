// Package sweepercore runs the periodic bulk cache-warming background
// loops, grounded directly on the teacher's cmd/server/main.go
// startSessionCleanupWorker: a time.Ticker plus a ctx.Done() select, with
// a guarded run at startup. Each sweeper is gated by a "more than 24h since
// last run" check stored directly in the KVStore, bypassing the two-tier
// compute path entirely since a gate check has no "compute" step.
package sweepercore

import (
	"context"
	"time"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

const gateTTL = 24 * time.Hour

// Sweeper is one named periodic job.
type Sweeper struct {
	Name     string
	Interval time.Duration
	GateKey  string
	Run      func(ctx context.Context) error
}

// Runner drives a set of Sweepers against a shared gate store.
type Runner struct {
	kv  kvstore.Store
	log logging.Logger
}

func NewRunner(kv kvstore.Store, log logging.Logger) *Runner {
	return &Runner{kv: kv, log: log}
}

// Start launches one goroutine per sweeper. Each does a guarded run
// immediately, then ticks at Interval until ctx is cancelled.
func (r *Runner) Start(ctx context.Context, sweepers ...Sweeper) {
	for _, s := range sweepers {
		go r.loop(ctx, s)
	}
}

func (r *Runner) loop(ctx context.Context, s Sweeper) {
	r.runIfDue(ctx, s)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runIfDue(ctx, s)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) runIfDue(ctx context.Context, s Sweeper) {
	if _, ran, _ := r.kv.Get(ctx, s.GateKey); ran {
		return
	}

	r.log.Info("sweepercore: running sweep", logging.String("sweeper", s.Name))
	if err := s.Run(ctx); err != nil {
		r.log.Error("sweepercore: sweep failed", err, logging.String("sweeper", s.Name))
		return
	}

	if err := r.kv.SetWithTTL(ctx, s.GateKey, []byte("1"), gateTTL); err != nil {
		r.log.Warn("sweepercore: failed to record gate", logging.String("sweeper", s.Name), logging.Err(err))
	}
}
