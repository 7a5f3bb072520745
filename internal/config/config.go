package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the waitlist service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gate      GateConfig      `yaml:"gate"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Waitlist  WaitlistConfig  `yaml:"waitlist"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port                   int      `yaml:"port"`
	Host                   string   `yaml:"host"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	ReadTimeoutSeconds     int      `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
	// ClientKeyHeader names the header carrying the installation id. When
	// empty, submissions are keyed by remote address.
	ClientKeyHeader string `yaml:"client_key_header"`
	// RequestsPerSecond and Burst shape the per-IP request throttle in front
	// of the API. Zero RequestsPerSecond disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// GateConfig holds submission gate behaviour
type GateConfig struct {
	SilentlyAcceptBots     *bool    `yaml:"silently_accept_bots"`
	CallTimeoutSeconds     *int     `yaml:"call_timeout_seconds"`
	ExtraDisposableDomains []string `yaml:"extra_disposable_domains"`
}

// SilentBots defaults to true when unset.
func (c GateConfig) SilentBots() bool {
	return c.SilentlyAcceptBots == nil || *c.SilentlyAcceptBots
}

// CallTimeout defaults to 10s when unset. An explicit 0 disables the bound.
func (c GateConfig) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds == nil {
		return 10 * time.Second
	}
	return time.Duration(*c.CallTimeoutSeconds) * time.Second
}

// RateLimitConfig selects where rate-limit records live
type RateLimitConfig struct {
	Store                 string `yaml:"store"` // memory, redis or sqlite
	RecordKey             string `yaml:"record_key"`
	DegradeOnStorageError *bool  `yaml:"degrade_on_storage_error"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	SQLitePath            string `yaml:"sqlite_path"`
}

// Degrade defaults to true when unset.
func (c RateLimitConfig) Degrade() bool {
	return c.DegradeOnStorageError == nil || *c.DegradeOnStorageError
}

// WaitlistConfig selects where signups are persisted
type WaitlistConfig struct {
	Store           string `yaml:"store"` // memory, postgres, dynamodb or supabase
	Table           string `yaml:"table"`
	DatabaseURL     string `yaml:"database_url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
	AWSRegion       string `yaml:"aws_region"`
	SupabaseURL     string `yaml:"supabase_url"`
	SupabaseAnonKey string `yaml:"supabase_anon_key"`
	MaxRetries      int    `yaml:"max_retries"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact defaults to true when unset.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

var (
	recordStores   = []string{"memory", "redis", "sqlite"}
	waitlistStores = []string{"memory", "postgres", "dynamodb", "supabase"}
)

// Load reads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 10
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 15
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 10
	}
	if cfg.RateLimit.Store == "" {
		cfg.RateLimit.Store = "memory"
	}
	if cfg.RateLimit.RedisAddr == "" {
		cfg.RateLimit.RedisAddr = "localhost:6379"
	}
	if cfg.RateLimit.SQLitePath == "" {
		cfg.RateLimit.SQLitePath = "waitlist_records.db"
	}
	if cfg.Waitlist.Store == "" {
		cfg.Waitlist.Store = "memory"
	}
	if cfg.Waitlist.Table == "" {
		cfg.Waitlist.Table = "waitlist"
	}
	if cfg.Waitlist.MaxOpenConns == 0 {
		cfg.Waitlist.MaxOpenConns = 10
	}
	if cfg.Waitlist.AWSRegion == "" {
		cfg.Waitlist.AWSRegion = "us-west-2"
	}
	if cfg.Waitlist.MaxRetries == 0 {
		cfg.Waitlist.MaxRetries = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration and applies environment overrides. A .env
// file in the working directory is read first when present.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("WAITLIST_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("WAITLIST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WAITLIST_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("WAITLIST_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("WAITLIST_CLIENT_KEY_HEADER"); v != "" {
		cfg.Server.ClientKeyHeader = v
	}
	if v := os.Getenv("WAITLIST_SILENTLY_ACCEPT_BOTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("WAITLIST_SILENTLY_ACCEPT_BOTS: %w", err)
		}
		cfg.Gate.SilentlyAcceptBots = &b
	}
	if v := os.Getenv("WAITLIST_CALL_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WAITLIST_CALL_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Gate.CallTimeoutSeconds = &secs
	}
	if v := os.Getenv("WAITLIST_DISPOSABLE_DOMAINS"); v != "" {
		cfg.Gate.ExtraDisposableDomains = append(cfg.Gate.ExtraDisposableDomains, splitList(v)...)
	}
	if v := os.Getenv("WAITLIST_RECORD_STORE"); v != "" {
		cfg.RateLimit.Store = v
	}
	if v := os.Getenv("WAITLIST_STORE"); v != "" {
		cfg.Waitlist.Store = v
	}
	if v := os.Getenv("WAITLIST_TABLE"); v != "" {
		cfg.Waitlist.Table = v
	}
	if v := os.Getenv("WAITLIST_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Backends
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RateLimit.RedisPassword = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Waitlist.DatabaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Waitlist.AWSRegion = v
	}
	if v := firstEnv("SUPABASE_URL", "VITE_SUPABASE_URL"); v != "" {
		cfg.Waitlist.SupabaseURL = v
	}
	if v := firstEnv("SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY"); v != "" {
		cfg.Waitlist.SupabaseAnonKey = v
	}

	return cfg, nil
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("server.requests_per_second must not be negative"))
	}
	if !contains(recordStores, c.RateLimit.Store) {
		errs = append(errs, fmt.Errorf("rate_limit.store %q must be one of %s", c.RateLimit.Store, strings.Join(recordStores, ", ")))
	}
	if !contains(waitlistStores, c.Waitlist.Store) {
		errs = append(errs, fmt.Errorf("waitlist.store %q must be one of %s", c.Waitlist.Store, strings.Join(waitlistStores, ", ")))
	}
	if c.Waitlist.Store == "postgres" && c.Waitlist.DatabaseURL == "" {
		errs = append(errs, errors.New("waitlist.database_url is required for the postgres store"))
	}
	if c.Gate.CallTimeoutSeconds != nil && *c.Gate.CallTimeoutSeconds < 0 {
		errs = append(errs, errors.New("gate.call_timeout_seconds must not be negative"))
	}

	return errors.Join(errs...)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
