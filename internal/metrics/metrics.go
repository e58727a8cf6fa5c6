// Package metrics exposes the orchestrator's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated counts crawl jobs minted by the scheduler.
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_jobs_created_total",
		Help: "Number of crawl jobs created by the scheduler",
	})

	// SlicesClaimed counts successful slice claims.
	SlicesClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_slices_claimed_total",
		Help: "Number of slices successfully claimed by crawlers",
	})

	// SlicesReclaimed counts slices returned to PENDING after lease expiry.
	SlicesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_slices_reclaimed_total",
		Help: "Number of expired RUNNING slices returned to PENDING",
	})

	// ReadingsIngested counts newly stored readings.
	ReadingsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_readings_ingested_total",
		Help: "Number of new readings stored",
	})

	// DuplicateReadings counts idempotently absorbed resubmissions.
	DuplicateReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_readings_duplicate_total",
		Help: "Number of duplicate reading submissions absorbed",
	})

	// CrawlFailures counts per-target failures reported by crawlers.
	CrawlFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_crawl_failures_total",
		Help: "Number of per-target crawl failures recorded",
	})

	// AlertsFired counts dispatched notifications by rule.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dormitricity_alerts_fired_total",
		Help: "Number of alert notifications successfully dispatched",
	}, []string{"rule"})

	// NotifyErrors counts failed notification deliveries.
	NotifyErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dormitricity_notify_errors_total",
		Help: "Number of failed notification deliveries",
	})
)
