// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads catsync configuration from an optional YAML file
// with environment-variable overrides. Environment always wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	catsyncerrors "github.com/tombee/catsync/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete catsync configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	ObjStore  ObjStoreConfig  `yaml:"objstore"`
	FTP       FTPConfig       `yaml:"ftp"`
	SFTP      SFTPConfig      `yaml:"sftp"`
	Mail      MailConfig      `yaml:"mail"`
	Sync      SyncConfig      `yaml:"sync"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8484".
	Addr string `yaml:"addr,omitempty"`

	// AuthToken is the bearer token required on API requests.
	// Environment: CATSYNC_AUTH_TOKEN
	AuthToken string `yaml:"auth_token,omitempty"`

	// ShutdownTimeout is the maximum duration for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format,omitempty"`

	// AddSource includes file:line in log records.
	AddSource bool `yaml:"add_source"`
}

// StoreConfig configures the run/lock/event store.
type StoreConfig struct {
	// Type is the store backend: "sqlite" or "memory".
	Type string `yaml:"type,omitempty"`

	// Path is the SQLite database path.
	Path string `yaml:"path,omitempty"`
}

// ObjStoreConfig configures object storage.
type ObjStoreConfig struct {
	// Type is the object store backend: "fs" or "s3".
	Type string `yaml:"type,omitempty"`

	// Root is the filesystem root (fs backend).
	Root string `yaml:"root,omitempty"`

	// BaseURL is the externally reachable /files prefix (fs backend).
	BaseURL string `yaml:"base_url,omitempty"`

	// Secret signs fs-backend URL tokens.
	// Environment: CATSYNC_OBJSTORE_SECRET
	Secret string `yaml:"secret,omitempty"`

	// Bucket, Prefix, Region, Endpoint configure the s3 backend.
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`

	// SignedURLTTL bounds signed URL validity.
	SignedURLTTL time.Duration `yaml:"signed_url_ttl,omitempty"`
}

// FTPConfig configures the supplier feed fetch.
// Environment: FTP_HOST, FTP_PORT, FTP_USER, FTP_PASSWORD,
// FTP_INPUT_DIR, FTP_USE_TLS.
type FTPConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	InputDir string `yaml:"input_dir,omitempty"`
	UseTLS   bool   `yaml:"use_tls"`
}

// SFTPConfig configures export shipping.
// Environment: SFTP_HOST, SFTP_PORT, SFTP_USER, SFTP_PASSWORD,
// SFTP_BASE_DIR.
type SFTPConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	BaseDir  string `yaml:"base_dir,omitempty"`
}

// Complete reports whether all required SFTP settings are present.
// The upload step refuses to start without them.
func (c SFTPConfig) Complete() bool {
	return c.Host != "" && c.User != "" && c.Password != "" && c.BaseDir != ""
}

// MissingKeys lists the absent required SFTP settings for diagnostics.
func (c SFTPConfig) MissingKeys() []string {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "SFTP_HOST")
	}
	if c.User == "" {
		missing = append(missing, "SFTP_USER")
	}
	if c.Password == "" {
		missing = append(missing, "SFTP_PASSWORD")
	}
	if c.BaseDir == "" {
		missing = append(missing, "SFTP_BASE_DIR")
	}
	return missing
}

// MailConfig configures the completion notification email.
type MailConfig struct {
	// Enabled turns notification delivery on.
	Enabled bool `yaml:"enabled"`

	Host     string   `yaml:"host,omitempty"`
	Port     int      `yaml:"port,omitempty"`
	User     string   `yaml:"user,omitempty"`
	Password string   `yaml:"password,omitempty"`
	From     string   `yaml:"from,omitempty"`
	To       []string `yaml:"to,omitempty"`
}

// SyncConfig holds pipeline tuning. Defaults match the operational
// envelope the pipeline was sized for; override with care.
type SyncConfig struct {
	// OrchestratorBudget bounds one tick for most steps.
	OrchestratorBudget time.Duration `yaml:"orchestrator_budget,omitempty"`

	// ParseMergeBudget bounds one tick while parse_merge is active.
	ParseMergeBudget time.Duration `yaml:"parse_merge_budget,omitempty"`

	// ChunkTimeBudget bounds in-step work per parse_merge invocation.
	ChunkTimeBudget time.Duration `yaml:"chunk_time_budget,omitempty"`

	// LockTTL is the global lock lease duration.
	LockTTL time.Duration `yaml:"lock_ttl,omitempty"`

	// StepMaxRetries bounds worker-limit retries per step.
	StepMaxRetries int `yaml:"step_max_retries,omitempty"`

	// MaxFetchBytes is the Range window per chunk fetch.
	MaxFetchBytes int64 `yaml:"max_fetch_bytes,omitempty"`

	// MaxTotalChunks bounds the chunk count for one material file.
	MaxTotalChunks int `yaml:"max_total_chunks,omitempty"`

	// MaxTotalSizeBytes bounds the accepted material file size.
	MaxTotalSizeBytes int64 `yaml:"max_total_size_bytes,omitempty"`

	// MaxPartialLineBytes bounds the carried partial line.
	MaxPartialLineBytes int `yaml:"max_partial_line_bytes,omitempty"`

	// IncludeEU enables the IT/EU stock split.
	IncludeEU bool `yaml:"include_eu"`

	// LeadDaysIT / LeadDaysEU are handling-time days per stock source.
	LeadDaysIT int `yaml:"lead_days_it,omitempty"`
	LeadDaysEU int `yaml:"lead_days_eu,omitempty"`
}

// PricingConfig holds the fee ladder parameters. FeeMkt is keyed by
// marketplace name (amazon, mediaworld, eprice); the "default" entry
// prices the canonical product table.
type PricingConfig struct {
	VATPercent    int                `yaml:"vat_percent,omitempty"`
	FeeDrev       float64            `yaml:"fee_drev,omitempty"`
	ShippingEuros float64            `yaml:"shipping_euros,omitempty"`
	FeeMkt        map[string]float64 `yaml:"fee_mkt,omitempty"`
}

// MarketplaceFee returns the fee multiplier for a marketplace, falling
// back to the "default" entry, then to 1.08.
func (p PricingConfig) MarketplaceFee(marketplace string) float64 {
	if fee, ok := p.FeeMkt[marketplace]; ok {
		return fee
	}
	if fee, ok := p.FeeMkt["default"]; ok {
		return fee
	}
	return 1.08
}

// SchedulerConfig configures the cron tick driver.
type SchedulerConfig struct {
	// Enabled turns the in-process cron driver on.
	Enabled bool `yaml:"enabled"`

	// TickSchedule is a 5-field cron expression for orchestrator ticks.
	TickSchedule string `yaml:"tick_schedule,omitempty"`

	// TriggerSchedule is a 5-field cron expression for starting new runs.
	// Empty disables cron-triggered runs.
	TriggerSchedule string `yaml:"trigger_schedule,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8484",
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Type: "sqlite",
			Path: "catsync.db",
		},
		ObjStore: ObjStoreConfig{
			Type:         "fs",
			Root:         "objects",
			SignedURLTTL: 15 * time.Minute,
		},
		FTP: FTPConfig{
			Port: 21,
		},
		SFTP: SFTPConfig{
			Port: 22,
		},
		Mail: MailConfig{
			Port: 587,
		},
		Sync: SyncConfig{
			OrchestratorBudget:  25 * time.Second,
			ParseMergeBudget:    50 * time.Second,
			ChunkTimeBudget:     8 * time.Second,
			LockTTL:             120 * time.Second,
			StepMaxRetries:      8,
			MaxFetchBytes:       2 * 1024 * 1024,
			MaxTotalChunks:      50,
			MaxTotalSizeBytes:   40 * 1024 * 1024,
			MaxPartialLineBytes: 256 * 1024,
			LeadDaysIT:          2,
			LeadDaysEU:          5,
		},
		Pricing: PricingConfig{
			VATPercent:    22,
			FeeDrev:       1.04,
			ShippingEuros: 5.0,
			FeeMkt: map[string]float64{
				"default":    1.08,
				"amazon":     1.08,
				"mediaworld": 1.08,
				"eprice":     1.07,
			},
		},
		Scheduler: SchedulerConfig{
			TickSchedule: "* * * * *",
		},
	}
}

// Load loads configuration from an optional YAML file, fills defaults,
// and applies environment overrides. Environment variables take
// precedence over file-based configuration.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &catsyncerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &catsyncerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyDefaults fills in zero values with defaults, so minimal configs
// (e.g. just ftp + sftp credentials) work without specifying all fields.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Store.Type == "" {
		c.Store.Type = defaults.Store.Type
	}
	if c.Store.Path == "" {
		c.Store.Path = defaults.Store.Path
	}
	if c.ObjStore.Type == "" {
		c.ObjStore.Type = defaults.ObjStore.Type
	}
	if c.ObjStore.Root == "" {
		c.ObjStore.Root = defaults.ObjStore.Root
	}
	if c.ObjStore.SignedURLTTL == 0 {
		c.ObjStore.SignedURLTTL = defaults.ObjStore.SignedURLTTL
	}
	if c.FTP.Port == 0 {
		c.FTP.Port = defaults.FTP.Port
	}
	if c.SFTP.Port == 0 {
		c.SFTP.Port = defaults.SFTP.Port
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = defaults.Mail.Port
	}

	if c.Sync.OrchestratorBudget == 0 {
		c.Sync.OrchestratorBudget = defaults.Sync.OrchestratorBudget
	}
	if c.Sync.ParseMergeBudget == 0 {
		c.Sync.ParseMergeBudget = defaults.Sync.ParseMergeBudget
	}
	if c.Sync.ChunkTimeBudget == 0 {
		c.Sync.ChunkTimeBudget = defaults.Sync.ChunkTimeBudget
	}
	if c.Sync.LockTTL == 0 {
		c.Sync.LockTTL = defaults.Sync.LockTTL
	}
	if c.Sync.StepMaxRetries == 0 {
		c.Sync.StepMaxRetries = defaults.Sync.StepMaxRetries
	}
	if c.Sync.MaxFetchBytes == 0 {
		c.Sync.MaxFetchBytes = defaults.Sync.MaxFetchBytes
	}
	if c.Sync.MaxTotalChunks == 0 {
		c.Sync.MaxTotalChunks = defaults.Sync.MaxTotalChunks
	}
	if c.Sync.MaxTotalSizeBytes == 0 {
		c.Sync.MaxTotalSizeBytes = defaults.Sync.MaxTotalSizeBytes
	}
	if c.Sync.MaxPartialLineBytes == 0 {
		c.Sync.MaxPartialLineBytes = defaults.Sync.MaxPartialLineBytes
	}
	if c.Sync.LeadDaysIT == 0 {
		c.Sync.LeadDaysIT = defaults.Sync.LeadDaysIT
	}
	if c.Sync.LeadDaysEU == 0 {
		c.Sync.LeadDaysEU = defaults.Sync.LeadDaysEU
	}

	if c.Pricing.VATPercent == 0 {
		c.Pricing.VATPercent = defaults.Pricing.VATPercent
	}
	if c.Pricing.FeeDrev == 0 {
		c.Pricing.FeeDrev = defaults.Pricing.FeeDrev
	}
	if c.Pricing.ShippingEuros == 0 {
		c.Pricing.ShippingEuros = defaults.Pricing.ShippingEuros
	}
	if c.Pricing.FeeMkt == nil {
		c.Pricing.FeeMkt = defaults.Pricing.FeeMkt
	}

	if c.Scheduler.TickSchedule == "" {
		c.Scheduler.TickSchedule = defaults.Scheduler.TickSchedule
	}
}

func (c *Config) loadFromEnv() {
	// Server configuration
	if val := os.Getenv("CATSYNC_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := os.Getenv("CATSYNC_AUTH_TOKEN"); val != "" {
		c.Server.AuthToken = val
	}

	// Log configuration
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = boolVal(val)
	}

	// Store configuration
	if val := os.Getenv("CATSYNC_STORE_TYPE"); val != "" {
		c.Store.Type = strings.ToLower(val)
	}
	if val := os.Getenv("CATSYNC_STORE_PATH"); val != "" {
		c.Store.Path = val
	}

	// Object store configuration
	if val := os.Getenv("CATSYNC_OBJSTORE_TYPE"); val != "" {
		c.ObjStore.Type = strings.ToLower(val)
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_ROOT"); val != "" {
		c.ObjStore.Root = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_BASE_URL"); val != "" {
		c.ObjStore.BaseURL = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_SECRET"); val != "" {
		c.ObjStore.Secret = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_BUCKET"); val != "" {
		c.ObjStore.Bucket = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_PREFIX"); val != "" {
		c.ObjStore.Prefix = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_REGION"); val != "" {
		c.ObjStore.Region = val
	}
	if val := os.Getenv("CATSYNC_OBJSTORE_ENDPOINT"); val != "" {
		c.ObjStore.Endpoint = val
	}

	// FTP configuration
	if val := os.Getenv("FTP_HOST"); val != "" {
		c.FTP.Host = val
	}
	if val := os.Getenv("FTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.FTP.Port = port
		}
	}
	if val := os.Getenv("FTP_USER"); val != "" {
		c.FTP.User = val
	}
	if val := os.Getenv("FTP_PASSWORD"); val != "" {
		c.FTP.Password = val
	}
	if val := os.Getenv("FTP_INPUT_DIR"); val != "" {
		c.FTP.InputDir = val
	}
	if val := os.Getenv("FTP_USE_TLS"); val != "" {
		c.FTP.UseTLS = boolVal(val)
	}

	// SFTP configuration
	if val := os.Getenv("SFTP_HOST"); val != "" {
		c.SFTP.Host = val
	}
	if val := os.Getenv("SFTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.SFTP.Port = port
		}
	}
	if val := os.Getenv("SFTP_USER"); val != "" {
		c.SFTP.User = val
	}
	if val := os.Getenv("SFTP_PASSWORD"); val != "" {
		c.SFTP.Password = val
	}
	if val := os.Getenv("SFTP_BASE_DIR"); val != "" {
		c.SFTP.BaseDir = val
	}

	// Mail configuration
	if val := os.Getenv("CATSYNC_MAIL_ENABLED"); val != "" {
		c.Mail.Enabled = boolVal(val)
	}
	if val := os.Getenv("CATSYNC_MAIL_HOST"); val != "" {
		c.Mail.Host = val
	}
	if val := os.Getenv("CATSYNC_MAIL_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Mail.Port = port
		}
	}
	if val := os.Getenv("CATSYNC_MAIL_USER"); val != "" {
		c.Mail.User = val
	}
	if val := os.Getenv("CATSYNC_MAIL_PASSWORD"); val != "" {
		c.Mail.Password = val
	}
	if val := os.Getenv("CATSYNC_MAIL_FROM"); val != "" {
		c.Mail.From = val
	}
	if val := os.Getenv("CATSYNC_MAIL_TO"); val != "" {
		c.Mail.To = splitList(val)
	}

	// Pipeline tuning
	if val := os.Getenv("CATSYNC_ORCHESTRATOR_BUDGET"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sync.OrchestratorBudget = d
		}
	}
	if val := os.Getenv("CATSYNC_PARSE_MERGE_BUDGET"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sync.ParseMergeBudget = d
		}
	}
	if val := os.Getenv("CATSYNC_LOCK_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Sync.LockTTL = d
		}
	}
	if val := os.Getenv("CATSYNC_INCLUDE_EU"); val != "" {
		c.Sync.IncludeEU = boolVal(val)
	}

	// Scheduler configuration
	if val := os.Getenv("CATSYNC_SCHEDULER_ENABLED"); val != "" {
		c.Scheduler.Enabled = boolVal(val)
	}
	if val := os.Getenv("CATSYNC_TICK_SCHEDULE"); val != "" {
		c.Scheduler.TickSchedule = val
	}
	if val := os.Getenv("CATSYNC_TRIGGER_SCHEDULE"); val != "" {
		c.Scheduler.TriggerSchedule = val
	}
}

// Validate checks configuration invariants. SFTP completeness is NOT
// validated here: a run must be able to start and fail upload_sftp with
// a missing_env diagnostic rather than refuse to boot.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch c.Store.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("%w: invalid store type %q", ErrInvalidConfig, c.Store.Type)
	}
	switch c.ObjStore.Type {
	case "fs", "s3":
	default:
		return fmt.Errorf("%w: invalid objstore type %q", ErrInvalidConfig, c.ObjStore.Type)
	}
	if c.ObjStore.Type == "s3" && c.ObjStore.Bucket == "" {
		return fmt.Errorf("%w: objstore.bucket required for s3", ErrInvalidConfig)
	}
	if c.Sync.StepMaxRetries < 1 {
		return fmt.Errorf("%w: sync.step_max_retries must be >= 1", ErrInvalidConfig)
	}
	if c.Sync.MaxTotalChunks < 1 {
		return fmt.Errorf("%w: sync.max_total_chunks must be >= 1", ErrInvalidConfig)
	}
	if c.Pricing.VATPercent < 0 || c.Pricing.VATPercent > 100 {
		return fmt.Errorf("%w: pricing.vat_percent out of range", ErrInvalidConfig)
	}
	if c.Pricing.FeeDrev < 1.0 {
		return fmt.Errorf("%w: pricing.fee_drev must be >= 1.0", ErrInvalidConfig)
	}
	for name, fee := range c.Pricing.FeeMkt {
		if fee < 1.0 {
			return fmt.Errorf("%w: pricing.fee_mkt[%s] must be >= 1.0", ErrInvalidConfig, name)
		}
	}
	return nil
}

func boolVal(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
