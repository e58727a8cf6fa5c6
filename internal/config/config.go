// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the orchestrator.
// Values come from environment variables with defaults where sensible;
// secrets have no defaults and must be set.
type Config struct {
	ListenAddr string
	DBPath     string

	// Signing secrets. ActionsSecret signs the short-lived crawler claim
	// tokens, UserJWTSecret signs user session tokens, DormHashKey is the
	// HMAC key deriving hashed_dir from a canonical location id.
	ActionsSecret string
	UserJWTSecret string
	DormHashKey   string

	// AdminToken guards the manual /trigger endpoint. Empty disables it.
	AdminToken string

	// Scheduler tuning.
	ScheduleInterval time.Duration
	SliceSize        int
	ClaimTokenTTL    time.Duration
	SliceLease       time.Duration

	MaxSubsPerUser int

	// External workflow runner (GitHub Actions style dispatch).
	RunnerOwner    string
	RunnerRepo     string
	RunnerWorkflow string
	RunnerRef      string
	RunnerPAT      string

	// Optional S3-compatible archive of finished jobs.
	ArchiveEndpoint  string
	ArchiveBucket    string
	ArchiveAccessKey string
	ArchiveSecretKey string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	return &Config{
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		DBPath:     getenv("DB_PATH", "dormitricity.db"),

		ActionsSecret: os.Getenv("ACTIONS_SHARED_SECRET"),
		UserJWTSecret: os.Getenv("USER_JWT_SECRET"),
		DormHashKey:   os.Getenv("DORM_HASH_KEY"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),

		ScheduleInterval: getdur("SCHEDULE_INTERVAL", 10*time.Minute),
		SliceSize:        getint("SLICE_SIZE", 50),
		ClaimTokenTTL:    getdur("CLAIM_TOKEN_TTL", 10*time.Minute),
		SliceLease:       getdur("SLICE_LEASE", 8*time.Minute),

		MaxSubsPerUser: getint("MAX_SUBS_PER_USER", 10),

		RunnerOwner:    os.Getenv("GH_OWNER"),
		RunnerRepo:     os.Getenv("GH_REPO"),
		RunnerWorkflow: os.Getenv("GH_WORKFLOW"),
		RunnerRef:      getenv("GH_REF", "main"),
		RunnerPAT:      os.Getenv("GITHUB_PAT"),

		ArchiveEndpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
		ArchiveBucket:    getenv("ARCHIVE_BUCKET", "dormitricity-archive"),
		ArchiveAccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
	}
}

// Validate checks the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR cannot be empty")
	}
	if c.DBPath == "" {
		errs = append(errs, "DB_PATH cannot be empty")
	}
	if c.ActionsSecret == "" {
		errs = append(errs, "ACTIONS_SHARED_SECRET is required")
	}
	if c.UserJWTSecret == "" {
		errs = append(errs, "USER_JWT_SECRET is required")
	}
	if c.DormHashKey == "" {
		errs = append(errs, "DORM_HASH_KEY is required")
	}
	if c.SliceSize < 1 {
		errs = append(errs, fmt.Sprintf("SLICE_SIZE must be >= 1, got %d", c.SliceSize))
	}
	if c.ScheduleInterval < time.Minute {
		errs = append(errs, "SCHEDULE_INTERVAL must be at least 1m")
	}
	if c.MaxSubsPerUser < 1 {
		errs = append(errs, "MAX_SUBS_PER_USER must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ArchiveEnabled reports whether finished jobs should be exported.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveAccessKey != "" && c.ArchiveSecretKey != ""
}

// RunnerEnabled reports whether the external workflow runner is configured.
func (c *Config) RunnerEnabled() bool {
	return c.RunnerOwner != "" && c.RunnerRepo != "" && c.RunnerWorkflow != "" && c.RunnerPAT != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
