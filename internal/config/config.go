// Package config loads irissync settings from the environment and an
// optional config file.
//
// Keys are the environment variable names, lower-cased in config files
// (AIRTABLE_TOKEN in the environment, airtable_token in YAML). The
// environment always wins over the file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/impactbot/irissync/internal/airtable"
	"github.com/impactbot/irissync/internal/iris/schema"
)

// Config keys.
const (
	KeyAirtableToken      = "airtable_token"
	KeyAirtableBaseID     = "airtable_base_id"
	KeyAirtableAPIURL     = "airtable_api_url"
	KeyAirtablePageSize   = "airtable_page_size"
	KeyAirtableMaxRetries = "airtable_max_retries"
	KeyDatabaseURL        = "database_url"
	KeySyncSchedule       = "sync_schedule"
	KeyDeltaInterval      = "delta_interval"
	KeyHealthInterval     = "health_interval"
	KeyTickInterval       = "tick_interval"
	KeyErrorBackoff       = "error_backoff"
	KeyDeltaMode          = "delta_mode"
	KeyTaxonomyFile       = "taxonomy_file"
	KeyLogFile            = "log_file"
	KeyDashboardPort      = "dashboard_port"
)

// DefaultDatabaseURL is the embedded SQLite store.
const DefaultDatabaseURL = "file:data/irissync.db"

// Config is the resolved service configuration.
type Config struct {
	AirtableToken string

	// AirtableBaseID is empty unless set; the registry's base applies then
	AirtableBaseID     string
	AirtableAPIURL     string
	AirtablePageSize   int
	AirtableMaxRetries int

	DatabaseURL string

	SyncSchedule   string
	DeltaInterval  time.Duration
	HealthInterval time.Duration
	TickInterval   time.Duration
	ErrorBackoff   time.Duration
	DeltaMode      string

	TaxonomyFile  string
	LogFile       string
	DashboardPort int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAirtableToken, "")
	v.SetDefault(KeyAirtableBaseID, "")
	v.SetDefault(KeyAirtableAPIURL, airtable.DefaultBaseURL)
	v.SetDefault(KeyAirtablePageSize, airtable.MaxPageSize)
	v.SetDefault(KeyAirtableMaxRetries, 3)
	v.SetDefault(KeyDatabaseURL, DefaultDatabaseURL)
	v.SetDefault(KeySyncSchedule, "0 2 * * *")
	v.SetDefault(KeyDeltaInterval, "1h")
	v.SetDefault(KeyHealthInterval, "30m")
	v.SetDefault(KeyTickInterval, "60s")
	v.SetDefault(KeyErrorBackoff, "5m")
	v.SetDefault(KeyDeltaMode, "server")
	v.SetDefault(KeyTaxonomyFile, "")
	v.SetDefault(KeyLogFile, "logs/data-sync.log")
	v.SetDefault(KeyDashboardPort, 0)
}

// Load resolves the configuration. configFile may be empty; when set it must
// exist and be YAML, TOML or JSON.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		AirtableToken:      strings.TrimSpace(v.GetString(KeyAirtableToken)),
		AirtableBaseID:     strings.TrimSpace(v.GetString(KeyAirtableBaseID)),
		AirtableAPIURL:     strings.TrimSpace(v.GetString(KeyAirtableAPIURL)),
		AirtablePageSize:   v.GetInt(KeyAirtablePageSize),
		AirtableMaxRetries: v.GetInt(KeyAirtableMaxRetries),
		DatabaseURL:        strings.TrimSpace(v.GetString(KeyDatabaseURL)),
		SyncSchedule:       strings.TrimSpace(v.GetString(KeySyncSchedule)),
		DeltaMode:          strings.TrimSpace(v.GetString(KeyDeltaMode)),
		TaxonomyFile:       strings.TrimSpace(v.GetString(KeyTaxonomyFile)),
		LogFile:            strings.TrimSpace(v.GetString(KeyLogFile)),
		DashboardPort:      v.GetInt(KeyDashboardPort),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyDeltaInterval, &c.DeltaInterval},
		{KeyHealthInterval, &c.HealthInterval},
		{KeyTickInterval, &c.TickInterval},
		{KeyErrorBackoff, &c.ErrorBackoff},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(strings.TrimSpace(v.GetString(d.key)))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(d.key), err)
		}
		*d.dst = parsed
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that do not depend on the run mode.
func (c *Config) Validate() error {
	if c.AirtablePageSize < 1 || c.AirtablePageSize > airtable.MaxPageSize {
		return fmt.Errorf("AIRTABLE_PAGE_SIZE must be between 1 and %d, got %d", airtable.MaxPageSize, c.AirtablePageSize)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"DELTA_INTERVAL":  c.DeltaInterval,
		"HEALTH_INTERVAL": c.HealthInterval,
		"TICK_INTERVAL":   c.TickInterval,
		"ERROR_BACKOFF":   c.ErrorBackoff,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	switch strings.ToLower(c.DeltaMode) {
	case "server", "client":
	default:
		return fmt.Errorf("DELTA_MODE must be server or client, got %q", c.DeltaMode)
	}
	if c.DashboardPort < 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("DASHBOARD_PORT out of range: %d", c.DashboardPort)
	}
	return nil
}

// RequireToken reports a missing Airtable token. Modes that call the API
// check it; views refresh does not need it.
func (c *Config) RequireToken() error {
	if c.AirtableToken == "" {
		return fmt.Errorf("AIRTABLE_TOKEN is required")
	}
	return nil
}

// IsPostgres reports whether DatabaseURL selects the PostgreSQL store.
func (c *Config) IsPostgres() bool {
	u := strings.ToLower(c.DatabaseURL)
	return strings.HasPrefix(u, "postgres://") || strings.HasPrefix(u, "postgresql://")
}

// Registry returns the table registry: the taxonomy file when set, the
// production layout otherwise. A non-empty AIRTABLE_BASE_ID overrides the
// registry's base.
func (c *Config) Registry() (*schema.Registry, error) {
	reg := schema.DefaultRegistry()
	if c.TaxonomyFile != "" {
		loaded, err := schema.LoadFile(c.TaxonomyFile)
		if err != nil {
			return nil, err
		}
		reg = loaded
	}
	if c.AirtableBaseID != "" {
		reg.BaseID = c.AirtableBaseID
	}
	return reg, nil
}
