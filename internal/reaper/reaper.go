// Package reaper periodically trims the invocation history and reconciles it
// with the environments present on disk.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// Prune reasons reported to the Recorder.
const (
	ReasonRetention = "retention"
	ReasonVanished  = "vanished"
)

type Reaper struct {
	store     HistoryStore
	envs      Environments
	recorder  Recorder
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a reaper. st may be nil when history is disabled; the reaper
// then only releases locks of vanished environments.
func New(st HistoryStore, envs Environments, interval, retention time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		store:     st,
		envs:      envs,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Reaper) SetRecorder(rec Recorder) {
	r.recorder = rec
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval, "retention", r.retention)

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.pruneExpired(ctx)
			r.reconcile(ctx)
		}
	}
}

func (r *Reaper) pruneExpired(ctx context.Context) {
	if r.store == nil || r.retention <= 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	n, err := r.store.DeleteInvocationsBefore(cutoff)
	if err != nil {
		r.logger.Error("reaper: prune history", "error", err)
		return
	}
	r.observe(ReasonRetention, n)
	if n > 0 {
		r.logger.Info("reaper: pruned history", "count", n, "cutoff", cutoff)
	}
}

// reconcile drops history and locks of environments whose directories are
// gone.
func (r *Reaper) reconcile(ctx context.Context) {
	ids, err := r.envs.List()
	if err != nil {
		r.logger.Error("reconcile: list environments", "error", err)
		return
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	if released := r.envs.ReleaseLocks(live); released > 0 {
		r.logger.Debug("reconcile: released locks", "count", released)
	}

	if r.store == nil {
		return
	}
	recorded, err := r.store.ListEnvIDs()
	if err != nil {
		r.logger.Error("reconcile: list history", "error", err)
		return
	}
	for _, id := range recorded {
		if ctx.Err() != nil {
			return
		}
		if live[id] {
			continue
		}
		n, err := r.store.DeleteInvocations(id)
		if err != nil {
			r.logger.Warn("reconcile: delete history", "env_id", id, "error", err)
			continue
		}
		r.observe(ReasonVanished, n)
		r.logger.Info("reconcile: environment vanished, history dropped", "env_id", id, "count", n)
	}
}

func (r *Reaper) observe(reason string, n int64) {
	if r.recorder != nil && n > 0 {
		r.recorder.ObservePruned(reason, n)
	}
}
