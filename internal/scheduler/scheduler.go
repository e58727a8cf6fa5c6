// Package scheduler mints crawl jobs on a fixed cadence. Every tick it
// reclaims expired slices, partitions the enabled targets into slices,
// creates one job covering all of them, and hands the job to the external
// runner together with a scoped crawler token.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/auth"
	"github.com/dormitricity/orchestrator/internal/metrics"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

// Dispatcher starts crawler runs for a freshly minted job. Satisfied by
// runner.Runner; nil means jobs are created but nothing is launched,
// which is how self-hosted crawlers polling /crawler/claim operate.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, token string) error
}

// Scheduler drives the periodic crawl cycle.
type Scheduler struct {
	store    *storage.Store
	auth     *auth.Auth
	runner   Dispatcher
	clock    clockwork.Clock
	interval time.Duration
	slice    int
	tokenTTL time.Duration
}

// New creates a Scheduler. runner may be nil.
func New(store *storage.Store, a *auth.Auth, runner Dispatcher, clock clockwork.Clock,
	interval time.Duration, sliceSize int, tokenTTL time.Duration) *Scheduler {
	if sliceSize < 1 {
		sliceSize = 1
	}
	return &Scheduler{
		store:    store,
		auth:     a,
		runner:   runner,
		clock:    clock,
		interval: interval,
		slice:    sliceSize,
		tokenTTL: tokenTTL,
	}
}

// Run ticks until the context is cancelled. The first cycle fires after
// one full interval, not at startup, so a crash-looping process cannot
// flood the queue with jobs.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	logrus.WithField("interval", s.interval).Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Scheduler stopped")
			return
		case <-ticker.Chan():
			if _, err := s.RunOnce(ctx); err != nil {
				logrus.WithError(err).Error("Scheduling cycle failed")
			}
		}
	}
}

// RunOnce executes one scheduling cycle and returns the created job id,
// or "" when there was nothing to schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	now := s.clock.Now().Unix()

	reclaimed, err := s.store.ReclaimExpiredSlices(ctx, now)
	if err != nil {
		return "", err
	}
	metrics.SlicesReclaimed.Add(float64(reclaimed))

	targets, err := s.store.EnabledTargets(ctx)
	if err != nil {
		return "", err
	}
	if len(targets) == 0 {
		logrus.Debug("No enabled targets, skipping cycle")
		return "", nil
	}

	jobID := uuid.NewString()
	slices := partition(targets, s.slice)
	if err := s.store.CreateJobWithSlices(ctx, jobID, now, slices); err != nil {
		return "", err
	}
	metrics.JobsCreated.Inc()
	logrus.WithFields(logrus.Fields{
		"job_id":  jobID,
		"targets": len(targets),
		"slices":  len(slices),
	}).Info("Created crawl job")

	token, err := s.auth.SignCrawlerToken(jobID, []string{auth.ScopeClaim, auth.ScopeIngest}, s.tokenTTL)
	if err != nil {
		return "", err
	}

	if s.runner != nil {
		if err := s.runner.Dispatch(ctx, jobID, token); err != nil {
			// The job stays PENDING; its slices are still claimable by any
			// crawler holding a valid token, and the next cycle retries.
			logrus.WithError(err).WithField("job_id", jobID).Error("Runner dispatch failed")
		}
	}
	return jobID, nil
}

func partition(targets []types.Target, size int) [][]types.Target {
	var out [][]types.Target
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		out = append(out, targets[start:end])
	}
	return out
}
