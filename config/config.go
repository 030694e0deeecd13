// Package config provides CLI configuration management for the redact command-line tool.
// It supports loading configuration from YAML files, environment variables, and command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/redact-cli/pkg/redaction"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultAnalyzerURL   = "http://localhost:8000"
	DefaultTimeout       = 2 * time.Minute
	DefaultOutputFormat  = OutputFormatText
	DefaultConfigDir     = ".redact"
	DefaultConfigFile    = "config.yaml"
	DefaultServeAddress  = "127.0.0.1:8080"
	DefaultRedisAddr     = "localhost:6379"
	DefaultEntityTypes   = "all"
	DefaultExportSubdir  = "exports"
	envPrefix            = "REDACT_"
	envConfigDir         = envPrefix + "CONFIG_DIR"
	envAnalyzerURL       = envPrefix + "ANALYZER_URL"
	envTimeout           = envPrefix + "TIMEOUT"
	envOutputFormat      = envPrefix + "OUTPUT_FORMAT"
	envDefaultMode       = envPrefix + "DEFAULT_MODE"
	envDefaultTypes      = envPrefix + "DEFAULT_TYPES"
	envExportDir         = envPrefix + "EXPORT_DIR"
	envDebug             = envPrefix + "DEBUG"
	envLogJSON           = envPrefix + "LOG_JSON"
	envServeAddress      = envPrefix + "SERVE_ADDRESS"
	envRedisEnabled      = envPrefix + "REDIS_ENABLED"
	envRedisAddr         = envPrefix + "REDIS_ADDR"
	envRedisPassword     = envPrefix + "REDIS_PASSWORD"
	envRedisDB           = envPrefix + "REDIS_DB"
	envHistoryDatabase   = envPrefix + "DATABASE_URL"
	envTLSCACert         = envPrefix + "TLS_CA_CERT"
	envTLSClientCert     = envPrefix + "TLS_CLIENT_CERT"
	envTLSClientKey      = envPrefix + "TLS_CLIENT_KEY"
	envTLSCertDir        = envPrefix + "TLS_CERT_DIR"
	envTLSSkipVerify     = envPrefix + "TLS_SKIP_VERIFY"
	envTLSEnabled        = envPrefix + "TLS_ENABLED"
)

// TLSConfig holds client TLS settings for HTTPS analyzer endpoints.
type TLSConfig struct {
	// Enabled turns on custom TLS settings. Plain https:// URLs work without it.
	Enabled bool `yaml:"enabled"`

	// CACert is the path to a CA certificate for verifying the analyzer.
	CACert string `yaml:"ca_cert,omitempty"`

	// ClientCert and ClientKey enable mutual TLS when both are set.
	ClientCert string `yaml:"client_cert,omitempty"`
	ClientKey  string `yaml:"client_key,omitempty"`

	// CertDir is a directory containing ca.crt, client.crt, and client.key files.
	// If set, it provides default paths for CACert, ClientCert, and ClientKey.
	CertDir string `yaml:"cert_dir,omitempty"`

	// SkipVerify disables server certificate verification (insecure, for testing only).
	SkipVerify bool `yaml:"skip_verify,omitempty"`
}

// ResolvePaths expands ~ in paths and sets defaults from CertDir if configured.
func (c *TLSConfig) ResolvePaths() {
	if c.CertDir != "" {
		c.CertDir = expandPath(c.CertDir)
		if c.CACert == "" {
			c.CACert = filepath.Join(c.CertDir, "ca.crt")
		}
		if c.ClientCert == "" {
			c.ClientCert = filepath.Join(c.CertDir, "client.crt")
		}
		if c.ClientKey == "" {
			c.ClientKey = filepath.Join(c.CertDir, "client.key")
		}
		return
	}
	c.CACert = expandPath(c.CACert)
	c.ClientCert = expandPath(c.ClientCert)
	c.ClientKey = expandPath(c.ClientKey)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// ServeConfig holds settings for `redact serve`.
type ServeConfig struct {
	// Address is the host:port the HTTP API listens on.
	Address string `yaml:"address"`
}

// RedisConfig holds settings for the session event publisher.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// HistoryConfig holds settings for the run history store.
type HistoryConfig struct {
	// DatabaseURL is a PostgreSQL connection string. Empty disables history.
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// IsConfigured returns true if a history database is configured.
func (h HistoryConfig) IsConfigured() bool {
	return strings.TrimSpace(h.DatabaseURL) != ""
}

// CLIConfig holds the CLI configuration settings.
type CLIConfig struct {
	// AnalyzerURL is the root URL of the PII Analysis Service.
	AnalyzerURL string `yaml:"analyzer_url"`

	// Timeout bounds a single analyzer request.
	Timeout time.Duration `yaml:"timeout"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	// DefaultMode is the redaction mode used when --mode is not given.
	DefaultMode redaction.Mode `yaml:"default_mode"`

	// DefaultTypes is a comma-separated UI category list, or "all".
	DefaultTypes string `yaml:"default_types"`

	// ExportDir is where export artifacts are written. Supports ~.
	ExportDir string `yaml:"export_dir,omitempty"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// LogJSON switches log output from console to JSON.
	LogJSON bool `yaml:"log_json,omitempty"`

	Serve   ServeConfig   `yaml:"serve"`
	Redis   RedisConfig   `yaml:"redis"`
	History HistoryConfig `yaml:"history"`
	TLS     TLSConfig     `yaml:"tls"`
}

// DefaultConfig returns a CLIConfig with default values.
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		AnalyzerURL:  DefaultAnalyzerURL,
		Timeout:      DefaultTimeout,
		OutputFormat: DefaultOutputFormat,
		DefaultMode:  redaction.DefaultMode,
		DefaultTypes: DefaultEntityTypes,
		Serve:        ServeConfig{Address: DefaultServeAddress},
		Redis:        RedisConfig{Addr: DefaultRedisAddr},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $REDACT_CONFIG_DIR if set, otherwise ~/.redact
func ConfigDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the CLI configuration from file and environment variables.
// Configuration is loaded in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.redact/config.yaml or $REDACT_CONFIG_DIR/config.yaml)
// 3. Environment variables (REDACT_*)
func LoadConfig() (*CLIConfig, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// configFile mirrors CLIConfig with the timeout as a duration string.
type configFile struct {
	AnalyzerURL  string         `yaml:"analyzer_url,omitempty"`
	Timeout      string         `yaml:"timeout,omitempty"`
	OutputFormat OutputFormat   `yaml:"output_format,omitempty"`
	DefaultMode  redaction.Mode `yaml:"default_mode,omitempty"`
	DefaultTypes string         `yaml:"default_types,omitempty"`
	ExportDir    string         `yaml:"export_dir,omitempty"`
	Debug        bool           `yaml:"debug,omitempty"`
	LogJSON      bool           `yaml:"log_json,omitempty"`
	Serve        *ServeConfig   `yaml:"serve,omitempty"`
	Redis        *RedisConfig   `yaml:"redis,omitempty"`
	History      *HistoryConfig `yaml:"history,omitempty"`
	TLS          *TLSConfig     `yaml:"tls,omitempty"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *CLIConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fileCfg configFile
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if fileCfg.AnalyzerURL != "" {
		cfg.AnalyzerURL = fileCfg.AnalyzerURL
	}
	if fileCfg.Timeout != "" {
		timeout, err := time.ParseDuration(fileCfg.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	if fileCfg.OutputFormat != "" {
		cfg.OutputFormat = fileCfg.OutputFormat
	}
	if fileCfg.DefaultMode != "" {
		cfg.DefaultMode = fileCfg.DefaultMode
	}
	if fileCfg.DefaultTypes != "" {
		cfg.DefaultTypes = fileCfg.DefaultTypes
	}
	if fileCfg.ExportDir != "" {
		cfg.ExportDir = fileCfg.ExportDir
	}
	cfg.Debug = fileCfg.Debug
	cfg.LogJSON = fileCfg.LogJSON
	if fileCfg.Serve != nil && fileCfg.Serve.Address != "" {
		cfg.Serve.Address = fileCfg.Serve.Address
	}
	if fileCfg.Redis != nil {
		addr := cfg.Redis.Addr
		cfg.Redis = *fileCfg.Redis
		if cfg.Redis.Addr == "" {
			cfg.Redis.Addr = addr
		}
	}
	if fileCfg.History != nil {
		cfg.History = *fileCfg.History
	}
	if fileCfg.TLS != nil {
		cfg.TLS = *fileCfg.TLS
	}

	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *CLIConfig) {
	if v := os.Getenv(envAnalyzerURL); v != "" {
		cfg.AnalyzerURL = v
	}

	if v := os.Getenv(envTimeout); v != "" {
		if timeout, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = timeout
		}
	}

	if v := os.Getenv(envOutputFormat); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}

	if v := os.Getenv(envDefaultMode); v != "" {
		cfg.DefaultMode = redaction.Mode(v)
	}

	if v := os.Getenv(envDefaultTypes); v != "" {
		cfg.DefaultTypes = v
	}

	if v := os.Getenv(envExportDir); v != "" {
		cfg.ExportDir = v
	}

	if envBool(envDebug) {
		cfg.Debug = true
	}

	if envBool(envLogJSON) {
		cfg.LogJSON = true
	}

	if v := os.Getenv(envServeAddress); v != "" {
		cfg.Serve.Address = v
	}

	// Redis environment variables.
	if envBool(envRedisEnabled) {
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(envRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv(envRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	if v := os.Getenv(envHistoryDatabase); v != "" {
		cfg.History.DatabaseURL = v
	}

	// TLS environment variables.
	if envBool(envTLSEnabled) {
		cfg.TLS.Enabled = true
	}
	if v := os.Getenv(envTLSCACert); v != "" {
		cfg.TLS.CACert = v
	}
	if v := os.Getenv(envTLSClientCert); v != "" {
		cfg.TLS.ClientCert = v
	}
	if v := os.Getenv(envTLSClientKey); v != "" {
		cfg.TLS.ClientKey = v
	}
	if v := os.Getenv(envTLSCertDir); v != "" {
		cfg.TLS.CertDir = v
	}
	if envBool(envTLSSkipVerify) {
		cfg.TLS.SkipVerify = true
	}
}

func envBool(key string) bool {
	v := os.Getenv(key)
	return v == "true" || v == "1"
}

// Validate checks that the configuration is valid.
func (c *CLIConfig) Validate() error {
	if c.AnalyzerURL == "" {
		return fmt.Errorf("analyzer_url is required")
	}
	if !strings.HasPrefix(c.AnalyzerURL, "http://") && !strings.HasPrefix(c.AnalyzerURL, "https://") {
		return fmt.Errorf("analyzer_url must start with http:// or https://: %q", c.AnalyzerURL)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	if _, err := redaction.ParseMode(string(c.DefaultMode)); err != nil {
		return fmt.Errorf("invalid default_mode: %w", err)
	}

	if _, err := redaction.ParseEntityTypeFilter(c.DefaultTypes); err != nil {
		return fmt.Errorf("invalid default_types: %w", err)
	}

	if c.Serve.Address == "" {
		return fmt.Errorf("serve.address is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// EntityFilter returns the parsed default entity-type filter.
func (c *CLIConfig) EntityFilter() (redaction.EntityTypeFilter, error) {
	return redaction.ParseEntityTypeFilter(c.DefaultTypes)
}

// Mode returns the parsed default redaction mode.
func (c *CLIConfig) Mode() (redaction.Mode, error) {
	return redaction.ParseMode(string(c.DefaultMode))
}

// GetExportDir returns the expanded export directory, defaulting to
// <config dir>/exports.
func (c *CLIConfig) GetExportDir() (string, error) {
	if c.ExportDir != "" {
		return ExpandPath(c.ExportDir)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultExportSubdir), nil
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *CLIConfig) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)

	fileCfg := configFile{
		AnalyzerURL:  cfg.AnalyzerURL,
		Timeout:      cfg.Timeout.String(),
		OutputFormat: cfg.OutputFormat,
		DefaultMode:  cfg.DefaultMode,
		DefaultTypes: cfg.DefaultTypes,
		ExportDir:    cfg.ExportDir,
		Debug:        cfg.Debug,
		LogJSON:      cfg.LogJSON,
		Serve:        &cfg.Serve,
		Redis:        &cfg.Redis,
	}
	if cfg.History.IsConfigured() {
		fileCfg.History = &cfg.History
	}
	if cfg.TLS != (TLSConfig{}) {
		fileCfg.TLS = &cfg.TLS
	}

	data, err := yaml.Marshal(&fileCfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Set updates one field by its YAML key, as used by `redact config set`.
func (c *CLIConfig) Set(key, value string) error {
	switch key {
	case "analyzer_url":
		c.AnalyzerURL = value
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		c.Timeout = d
	case "output_format":
		c.OutputFormat = OutputFormat(value)
	case "default_mode":
		c.DefaultMode = redaction.Mode(value)
	case "default_types":
		c.DefaultTypes = value
	case "export_dir":
		c.ExportDir = value
	case "debug", "log_json", "redis.enabled", "tls.enabled", "tls.skip_verify":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		switch key {
		case "debug":
			c.Debug = b
		case "log_json":
			c.LogJSON = b
		case "redis.enabled":
			c.Redis.Enabled = b
		case "tls.enabled":
			c.TLS.Enabled = b
		case "tls.skip_verify":
			c.TLS.SkipVerify = b
		}
	case "serve.address":
		c.Serve.Address = value
	case "redis.addr":
		c.Redis.Addr = value
	case "redis.password":
		c.Redis.Password = value
	case "redis.db":
		db, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parsing redis.db: %w", err)
		}
		c.Redis.DB = db
	case "history.database_url":
		c.History.DatabaseURL = value
	case "tls.ca_cert":
		c.TLS.CACert = value
	case "tls.client_cert":
		c.TLS.ClientCert = value
	case "tls.client_key":
		c.TLS.ClientKey = value
	case "tls.cert_dir":
		c.TLS.CertDir = value
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return c.Validate()
}

// Keys lists the keys accepted by Set.
func Keys() []string {
	return []string{
		"analyzer_url", "timeout", "output_format", "default_mode", "default_types",
		"export_dir", "debug", "log_json", "serve.address",
		"redis.enabled", "redis.addr", "redis.password", "redis.db",
		"history.database_url",
		"tls.enabled", "tls.ca_cert", "tls.client_cert", "tls.client_key", "tls.cert_dir", "tls.skip_verify",
	}
}
