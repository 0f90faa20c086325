package concierge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the concierge engine.
type Config struct {
	// CacheTTL is the lifetime of cached decisions. Defaults to 5 minutes.
	CacheTTL time.Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`

	// BulkConcurrency bounds the goroutines EvaluateBulk runs at once.
	BulkConcurrency int `json:"bulk_concurrency,omitempty" yaml:"bulk_concurrency,omitempty"`

	// DefaultHistoryLimit and MaxHistoryLimit bound history page sizes.
	DefaultHistoryLimit int `json:"default_history_limit,omitempty" yaml:"default_history_limit,omitempty"`
	MaxHistoryLimit     int `json:"max_history_limit,omitempty" yaml:"max_history_limit,omitempty"`

	// AnalyticsLookback is the fixed window GetAnalytics reports over.
	AnalyticsLookback time.Duration `json:"analytics_lookback,omitempty" yaml:"analytics_lookback,omitempty"`

	// RetentionDays is the audit retention period, used for compliance
	// reporting and for purging the administrative audit log.
	RetentionDays int `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`

	// SuspiciousChangeThreshold flags an administrator making more than this
	// many changes within SuspiciousWindow.
	SuspiciousChangeThreshold int           `json:"suspicious_change_threshold,omitempty" yaml:"suspicious_change_threshold,omitempty"`
	SuspiciousWindow          time.Duration `json:"suspicious_window,omitempty" yaml:"suspicious_window,omitempty"`

	// BusinessHoursStart and BusinessHoursEnd delimit normal hours [start, end).
	BusinessHoursStart int `json:"business_hours_start" yaml:"business_hours_start"`
	BusinessHoursEnd   int `json:"business_hours_end" yaml:"business_hours_end"`

	// AfterHoursShareThreshold flags a tenant whose share of changes outside
	// business hours exceeds it (0..1).
	AfterHoursShareThreshold float64 `json:"after_hours_share_threshold,omitempty" yaml:"after_hours_share_threshold,omitempty"`

	// Timezone is the IANA zone used for business hours and daily trends.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// LegacyRoles overrides the legacy role pattern table. Keys are legacy
	// role names, optionally suffixed "@external" for external users.
	LegacyRoles map[string][]string `json:"legacy_roles,omitempty" yaml:"legacy_roles,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:                  5 * time.Minute,
		BulkConcurrency:           8,
		DefaultHistoryLimit:       50,
		MaxHistoryLimit:           500,
		AnalyticsLookback:         30 * 24 * time.Hour,
		RetentionDays:             365,
		SuspiciousChangeThreshold: 20,
		SuspiciousWindow:          time.Hour,
		BusinessHoursStart:        8,
		BusinessHoursEnd:          18,
		AfterHoursShareThreshold:  0.3,
		Timezone:                  "UTC",
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("concierge: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("concierge: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	var errs []error
	if c.CacheTTL < 0 {
		errs = append(errs, errors.New("cache_ttl must not be negative"))
	}
	if c.BulkConcurrency < 0 {
		errs = append(errs, errors.New("bulk_concurrency must not be negative"))
	}
	if c.BusinessHoursStart < 0 || c.BusinessHoursStart > 23 || c.BusinessHoursEnd < 0 || c.BusinessHoursEnd > 24 {
		errs = append(errs, errors.New("business hours must be within 0..24"))
	}
	if c.AfterHoursShareThreshold < 0 || c.AfterHoursShareThreshold > 1 {
		errs = append(errs, errors.New("after_hours_share_threshold must be within 0..1"))
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		}
	}
	for key, patterns := range c.LegacyRoles {
		for _, p := range patterns {
			if _, err := ParsePattern(p); err != nil {
				errs = append(errs, fmt.Errorf("legacy_roles[%s]: %w", key, err))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("concierge: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) bulkConcurrency() int {
	if c.BulkConcurrency <= 0 {
		return 8
	}
	return c.BulkConcurrency
}

// historyLimit clamps a requested page size.
func (c Config) historyLimit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = c.DefaultHistoryLimit
	}
	if c.MaxHistoryLimit > 0 && limit > c.MaxHistoryLimit {
		limit = c.MaxHistoryLimit
	}
	if limit <= 0 {
		limit = 50
	}
	return limit
}
