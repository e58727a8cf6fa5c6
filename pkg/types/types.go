package types

import "time"

// Target identifies one crawl location. HashedDir is the HMAC-derived
// pseudonymous key used everywhere outside subscription management;
// CanonicalID is the human-readable location identifier.
type Target struct {
	HashedDir   string `json:"hashed_dir"`
	CanonicalID string `json:"canonical_id"`
}

// JobStatus represents the status of a crawl job
type JobStatus string

const (
	JobPending        JobStatus = "PENDING"
	JobRunning        JobStatus = "RUNNING"
	JobDone           JobStatus = "DONE"
	JobDoneWithErrors JobStatus = "DONE_WITH_ERRORS"
)

// SliceStatus represents the status of one slice within a job
type SliceStatus string

const (
	SlicePending SliceStatus = "PENDING"
	SliceRunning SliceStatus = "RUNNING"
	SliceDone    SliceStatus = "DONE"
)

// NotifyChannel selects the webhook provider for a subscription
type NotifyChannel string

const (
	ChannelNone       NotifyChannel = "none"
	ChannelWxWork     NotifyChannel = "wxwork"
	ChannelFeishu     NotifyChannel = "feishu"
	ChannelServerChan NotifyChannel = "serverchan"
)

// ValidChannel reports whether c is a known notification channel
func ValidChannel(c NotifyChannel) bool {
	switch c {
	case ChannelNone, ChannelWxWork, ChannelFeishu, ChannelServerChan:
		return true
	}
	return false
}

// Reading is a single meter observation, keyed by (hashed_dir, ts)
type Reading struct {
	HashedDir string  `json:"hashed_dir"`
	TS        int64   `json:"ts"`
	KWH       float64 `json:"kwh"`
	OK        bool    `json:"ok,omitempty"`
}

// CrawlFailure reports that one target could not be crawled within a job
type CrawlFailure struct {
	HashedDir string `json:"hashed_dir"`
	Reason    string `json:"reason"`
}

// ClaimRequest asks the coordinator for the next pending slice of a job
type ClaimRequest struct {
	JobID string `json:"job_id" binding:"required"`
}

// ClaimResponse hands one claimed slice to a crawler. DeadlineTS is
// advisory: the coordinator does not enforce it.
type ClaimResponse struct {
	JobID      string   `json:"job_id"`
	SliceIndex int      `json:"slice_index"`
	Targets    []Target `json:"targets"`
	DeadlineTS int64    `json:"deadline_ts"`
}

// IngestRequest carries one batch of crawl results for a claimed slice
type IngestRequest struct {
	JobID      string         `json:"job_id" binding:"required"`
	SliceIndex int            `json:"slice_index"`
	Readings   []Reading      `json:"readings"`
	Failures   []CrawlFailure `json:"failures"`
	Finished   bool           `json:"finished"`
}

// SeriesPoint is one (ts, kwh) sample of a location's reading series
type SeriesPoint struct {
	TS  int64   `json:"ts"`
	KWH float64 `json:"kwh"`
}

// LatestState is the cached most-recent reading for a location, plus the
// estimated discharge rate used by the depletion rule. Rate fields are
// nil until enough data has been ingested to fit a slope.
type LatestState struct {
	HashedDir string   `json:"hashed_dir"`
	LastTS    int64    `json:"last_ts"`
	LastKWH   float64  `json:"last_kwh"`
	LastKW    *float64 `json:"last_kw,omitempty"`
	R2        *float64 `json:"r2,omitempty"`
}

// Subscription binds a user to a location with its alert rules
type Subscription struct {
	UserID       string        `json:"-"`
	HashedDir    string        `json:"hashed_dir"`
	CanonicalID  string        `json:"canonical_id"`
	CreatedTS    int64         `json:"created_ts"`
	NotifyChan   NotifyChannel `json:"notify_channel"`
	NotifyToken  string        `json:"notify_token,omitempty"`
	ThresholdKWH float64       `json:"threshold_kwh"`
	WithinHours  float64       `json:"within_hours"`
	CooldownSec  int64         `json:"cooldown_sec"`
	LastAlertTS  int64         `json:"last_alert_ts"`

	// Joined from dorm_latest; nil when nothing has been ingested yet.
	Latest *LatestState `json:"latest,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	ActiveJobs int       `json:"active_jobs"`
}
