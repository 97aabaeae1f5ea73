// Package jobs runs the background work of the handoff service: the overdue
// sweeper, message retention and the admin notification projection.
package jobs

import (
	"context"
	"time"

	"handoffdesk/backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Expirer times out waiting sessions past their acceptance window.
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Pruner deletes messages of sessions that ended before a cutoff.
type Pruner interface {
	PruneMessages(ctx context.Context, endedBefore time.Time) (int64, error)
}

type SweepJob struct {
	expirer   Expirer
	pruner    Pruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
}

// NewSweepJob creates the periodic sweeper. A nil pruner or zero retention
// disables message retention.
func NewSweepJob(expirer Expirer, pruner Pruner, retention, interval time.Duration) *SweepJob {
	return &SweepJob{
		expirer:   expirer,
		pruner:    pruner,
		retention: retention,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

func (j *SweepJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	close(j.done)
	log.Info().Msg("sweep job stopped")
}

func (j *SweepJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep runs one pass.
func (j *SweepJob) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runStep(ctx, "expire", func(ctx context.Context) (int64, error) {
		n, err := j.expirer.ExpireOverdue(ctx)
		return int64(n), err
	})
	if j.pruner != nil && j.retention > 0 {
		j.runStep(ctx, "retention", func(ctx context.Context) (int64, error) {
			return j.pruner.PruneMessages(ctx, j.now().Add(-j.retention))
		})
	}
}

func (j *SweepJob) runStep(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues(name, "error").Inc()
		log.Error().Err(err).Str("job", name).Msg("sweep step failed")
		return
	}
	metrics.JobRuns.WithLabelValues(name, "ok").Inc()
	if count > 0 {
		log.Info().Int64("count", count).Str("job", name).Msg("sweep step applied")
	}
}
