package extension

import (
	"github.com/xraph/concierge/janitor"
)

// Config holds the Concierge extension configuration.
// Fields can be set programmatically via ExtOption functions or loaded from
// YAML configuration files (under "extensions.concierge" or "concierge" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableJanitor prevents the maintenance scheduler from starting.
	DisableJanitor bool `json:"disable_janitor" mapstructure:"disable_janitor" yaml:"disable_janitor"`

	// EnableMetrics registers the Prometheus collector plugin.
	EnableMetrics bool `json:"enable_metrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`

	// Janitor configures the expiry and audit-retention schedules.
	Janitor janitor.Config `json:"janitor" mapstructure:"janitor" yaml:"janitor"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Janitor: janitor.DefaultConfig(),
	}
}
