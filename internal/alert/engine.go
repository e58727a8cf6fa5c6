// Package alert evaluates subscription rules against freshly ingested
// readings and dispatches notifications.
package alert

import (
	"context"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/dormitricity/orchestrator/internal/estimate"
	"github.com/dormitricity/orchestrator/internal/metrics"
	"github.com/dormitricity/orchestrator/internal/notify"
	"github.com/dormitricity/orchestrator/internal/storage"
	"github.com/dormitricity/orchestrator/pkg/types"
)

const (
	// RuleLowPower fires when the latest reading is under the threshold.
	RuleLowPower = "low_power"
	// RuleDepletion fires when the projected time to empty is too short.
	RuleDepletion = "depletion_imminent"

	// Estimation window: trailing 24 hours, padded to at least 5 points.
	estimateWindow    = 24 * 3600
	estimateMinPoints = 5
)

// Sender delivers one notification; satisfied by notify.Dispatcher.
type Sender interface {
	Send(ctx context.Context, channel types.NotifyChannel, token, title, body string) notify.Result
}

// Engine runs the post-ingestion alerting pass.
type Engine struct {
	store  *storage.Store
	sender Sender
	clock  clockwork.Clock
	pool   pond.Pool
}

// NewEngine creates an alerting engine dispatching at most maxConcurrency
// notifications in parallel.
func NewEngine(store *storage.Store, sender Sender, clock clockwork.Clock, maxConcurrency int) *Engine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Engine{
		store:  store,
		sender: sender,
		clock:  clock,
		pool:   pond.NewPool(maxConcurrency),
	}
}

// Process refreshes discharge-rate estimates for the given locations and
// evaluates every subscription attached to them. Errors are isolated per
// location and per subscription: one bad webhook never blocks the rest,
// and the enclosing ingest call has already committed.
func (e *Engine) Process(ctx context.Context, hashedDirs []string) {
	for _, dir := range hashedDirs {
		e.refreshRate(ctx, dir)
	}

	group := e.pool.NewGroup()
	for _, dir := range hashedDirs {
		subs, err := e.store.SubscriptionsForDir(ctx, dir)
		if err != nil {
			logrus.WithError(err).WithField("hashed_dir", dir).Error("Failed to load subscriptions")
			continue
		}
		for _, sub := range subs {
			sub := sub
			group.SubmitErr(func() error {
				e.evaluate(ctx, sub)
				return nil
			})
		}
	}
	_ = group.Wait()
}

// refreshRate re-fits the discharge slope from the recent series and
// caches it for the depletion rule.
func (e *Engine) refreshRate(ctx context.Context, hashedDir string) {
	points, err := e.store.RecentSeries(ctx, hashedDir, estimateWindow, estimateMinPoints)
	if err != nil {
		logrus.WithError(err).WithField("hashed_dir", hashedDir).Error("Failed to load recent series")
		return
	}
	result := estimate.Estimate(points)
	if result == nil {
		// Insufficient or degenerate data: leave the cached rate alone so
		// the depletion rule keeps treating it as unknown or stale.
		return
	}
	if err := e.store.SetDischargeRate(ctx, hashedDir, result.KW, result.R2); err != nil {
		logrus.WithError(err).WithField("hashed_dir", hashedDir).Error("Failed to cache discharge rate")
	}
}

// firing describes the single alert a subscription produced this cycle.
type firing struct {
	rule           string
	hoursRemaining float64
}

// decide applies the alert rules to one subscription. At most one rule
// fires per cycle; low power takes precedence over depletion.
func decide(sub types.Subscription, now int64) *firing {
	if sub.Latest == nil {
		return nil
	}
	if sub.CooldownSec > 0 && now-sub.LastAlertTS < sub.CooldownSec {
		return nil
	}

	if sub.ThresholdKWH > 0 && sub.Latest.LastKWH < sub.ThresholdKWH {
		return &firing{rule: RuleLowPower}
	}

	if sub.WithinHours > 0 && sub.Latest.LastKW != nil && *sub.Latest.LastKW < 0 {
		hours := sub.Latest.LastKWH / -*sub.Latest.LastKW
		if hours < sub.WithinHours {
			return &firing{rule: RuleDepletion, hoursRemaining: hours}
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, sub types.Subscription) {
	now := e.clock.Now().Unix()
	f := decide(sub, now)
	if f == nil {
		return
	}

	title, body := message(sub, f)
	result := e.sender.Send(ctx, sub.NotifyChan, sub.NotifyToken, title, body)
	if !result.OK {
		// Cooldown untouched: the condition is re-evaluated on the next
		// qualifying ingestion, which is the retry mechanism.
		metrics.NotifyErrors.Inc()
		logrus.WithFields(logrus.Fields{
			"hashed_dir": sub.HashedDir,
			"rule":       f.rule,
			"error":      result.Error,
		}).Warn("Alert dispatch failed")
		return
	}

	if err := e.store.SetLastAlert(ctx, sub.UserID, sub.HashedDir, now); err != nil {
		logrus.WithError(err).WithField("hashed_dir", sub.HashedDir).Error("Failed to record alert time")
		return
	}
	metrics.AlertsFired.WithLabelValues(f.rule).Inc()
	logrus.WithFields(logrus.Fields{
		"hashed_dir": sub.HashedDir,
		"rule":       f.rule,
	}).Info("Alert dispatched")
}

func message(sub types.Subscription, f *firing) (string, string) {
	title := "Dormitricity alert: " + sub.CanonicalID
	switch f.rule {
	case RuleLowPower:
		return title, fmt.Sprintf(
			"Remaining charge is %.2f kWh, below your %.2f kWh threshold.",
			sub.Latest.LastKWH, sub.ThresholdKWH)
	default:
		return title, fmt.Sprintf(
			"At the current discharge rate, about %.1f hours of charge remain (your limit is %.0f hours).",
			f.hoursRemaining, sub.WithinHours)
	}
}
