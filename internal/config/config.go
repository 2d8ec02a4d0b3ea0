// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Connectors ConnectorsConfig `mapstructure:"connectors"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig names the service in traces.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// HTTPConfig configures connector retry behavior.
type HTTPConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	// CallTimeoutSeconds bounds one registry fan-out call per connector.
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
}

// ConnectorsConfig holds one block per marketplace.
type ConnectorsConfig struct {
	Amazon  AmazonConfig  `mapstructure:"amazon"`
	Rakuten RakutenConfig `mapstructure:"rakuten"`
	Yahoo   YahooConfig   `mapstructure:"yahoo"`
}

// ConnectorCommon is shared by every connector block.
type ConnectorCommon struct {
	Enabled        bool    `mapstructure:"enabled"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
	MaxPages       int     `mapstructure:"max_pages"`
}

// AmazonConfig holds PA-API credentials.
type AmazonConfig struct {
	ConnectorCommon `mapstructure:",squash"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	PartnerTag      string `mapstructure:"partner_tag"`
	Region          string `mapstructure:"region"`
	Marketplace     string `mapstructure:"marketplace"`
}

// RakutenConfig holds Ichiba API credentials.
type RakutenConfig struct {
	ConnectorCommon `mapstructure:",squash"`
	ApplicationID   string `mapstructure:"application_id"`
	AffiliateID     string `mapstructure:"affiliate_id"`
}

// YahooConfig holds Shopping API credentials.
type YahooConfig struct {
	ConnectorCommon `mapstructure:",squash"`
	AppID           string `mapstructure:"app_id"`
	AffiliateID     string `mapstructure:"affiliate_id"`
}

// SchedulerConfig drives the cron schedule and the worker pool.
type SchedulerConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	Hours              []int          `mapstructure:"hours"`
	Offsets            map[string]int `mapstructure:"offsets"`
	Timezone           string         `mapstructure:"timezone"`
	MaxAttempts        int            `mapstructure:"max_attempts"`
	BackoffBaseSeconds int            `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds  int            `mapstructure:"backoff_max_seconds"`
	Workers            int            `mapstructure:"workers"`
	QueueDepth         int            `mapstructure:"queue_depth"`
}

// NotifyConfig controls mail batching and delivery.
type NotifyConfig struct {
	Sender       string         `mapstructure:"sender"`
	GraceSeconds int            `mapstructure:"grace_seconds"`
	Windows      map[string]int `mapstructure:"windows"`
	SMTP         SMTPConfig     `mapstructure:"smtp"`
}

// SMTPConfig addresses the mail relay.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// TimeoutSeconds bounds one delivery, dial to QUIT.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "pricealert")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.call_timeout_seconds", 30)
	for _, site := range []string{"amazon", "rakuten", "yahoo"} {
		v.SetDefault("connectors."+site+".enabled", false)
		v.SetDefault("connectors."+site+".timeout_seconds", 10)
		v.SetDefault("connectors."+site+".rate_per_second", 1.0)
		v.SetDefault("connectors."+site+".burst", 1)
		v.SetDefault("connectors."+site+".max_pages", 3)
	}
	v.SetDefault("connectors.amazon.region", "us-west-2")
	v.SetDefault("connectors.amazon.marketplace", "www.amazon.co.jp")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.hours", []int{9, 13, 17, 21})
	v.SetDefault("scheduler.timezone", "Asia/Tokyo")
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.backoff_base_seconds", 30)
	v.SetDefault("scheduler.backoff_max_seconds", 300)
	v.SetDefault("scheduler.workers", 2)
	v.SetDefault("scheduler.queue_depth", 16)
	v.SetDefault("notify.sender", "log")
	v.SetDefault("notify.grace_seconds", 6*3600)
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	switch c.Notify.Sender {
	case "log":
	case "smtp":
		if c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "" {
			return fmt.Errorf("notify.smtp.host and notify.smtp.from must be set when notify.sender is smtp")
		}
	default:
		return fmt.Errorf("unknown notify.sender %q", c.Notify.Sender)
	}
	if a := c.Connectors.Amazon; a.Enabled && (a.AccessKey == "" || a.SecretKey == "" || a.PartnerTag == "") {
		return fmt.Errorf("connectors.amazon requires access_key, secret_key and partner_tag")
	}
	if r := c.Connectors.Rakuten; r.Enabled && r.ApplicationID == "" {
		return fmt.Errorf("connectors.rakuten.application_id must be set")
	}
	if y := c.Connectors.Yahoo; y.Enabled && y.AppID == "" {
		return fmt.Errorf("connectors.yahoo.app_id must be set")
	}
	return nil
}

// Location resolves the scheduler timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Grace returns the dispatch grace period.
func (n NotifyConfig) Grace() time.Duration {
	return time.Duration(n.GraceSeconds) * time.Second
}

// Intervals returns window overrides keyed by frequency name.
func (n NotifyConfig) Intervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(n.Windows))
	for f, secs := range n.Windows {
		out[f] = time.Duration(secs) * time.Second
	}
	return out
}

// Timeout returns the per-request connector timeout.
func (c ConnectorCommon) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
