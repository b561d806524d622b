// Package config holds the service configuration: a YAML file layered over
// built-in defaults, with secrets and per-deployment overrides read from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	ObjectStore   ObjectStoreConfig   `yaml:"object_store"`
	AI            AIConfig            `yaml:"ai"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Procedures    ProceduresConfig    `yaml:"procedures"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds listener and request limits.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification. Tokens are verified against the
// JWKS endpoint, or against a shared HMAC secret when HMACSecretEnv names a
// populated variable.
type IdentityConfig struct {
	Issuer        string            `yaml:"issuer"`
	Audience      string            `yaml:"audience"`
	JWKSURL       string            `yaml:"jwks_url"`
	JWKSCacheTTL  time.Duration     `yaml:"jwks_cache_ttl"`
	HMACSecretEnv string            `yaml:"hmac_secret_env"`
	Algorithms    []string          `yaml:"algorithms"`
	ClaimPaths    map[string]string `yaml:"claim_paths"`
}

// HMACSecret returns the shared secret, if configured.
func (c IdentityConfig) HMACSecret() string {
	if c.HMACSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.HMACSecretEnv)
}

// StoreConfig describes work-order persistence.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// DSN returns the connection string from the configured variable.
func (c StoreConfig) DSN() string {
	return os.Getenv(c.DSNEnv)
}

// ObjectStoreConfig describes where photos and report PDFs are kept. An
// empty endpoint keeps blobs in memory.
type ObjectStoreConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

// AIConfig describes the chat-completion upstream.
type AIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Model          string               `yaml:"model"`
	VisionModel    string               `yaml:"vision_model"`
	APIKeyEnv      string               `yaml:"api_key_env"`
	Timeout        time.Duration        `yaml:"timeout"`
	MaxTokens      int                  `yaml:"max_tokens"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// APIKey returns the upstream key from the configured variable.
func (c AIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

// CircuitBreakerConfig trips the AI upstream breaker on consecutive failures
// or on an error rate over a sliding window.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// RetryConfig bounds retries of retryable upstream failures.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// IdempotencyConfig selects where X-Idempotency-Key responses are kept.
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// Addr returns the redis address from the configured variable.
func (c IdempotencyConfig) Addr() string {
	return os.Getenv(c.AddrEnv)
}

// CapabilityConfig points at the role policy file. Empty uses the built-in
// technician, manager and admin roles.
type CapabilityConfig struct {
	StaticPolicyFile string      `yaml:"static_policy_file"`
	Cache            CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ProceduresConfig describes where procedure template YAML files live.
type ProceduresConfig struct {
	Directories []string `yaml:"directories"`
	SyncOnStart bool     `yaml:"sync_on_start"`
}

type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig selects the span exporter. Exporter is "otlp" or "stdout".
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the configuration used for any field the file omits.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			HandlerTimeout:  55 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  20 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"tenant_id":  "tenant_id",
				"email":      "email",
				"roles":      "roles",
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "FIELDOPS_DATABASE_URL",
			MaxConns:        20,
			MinConns:        2,
			ConnMaxLifetime: 30 * time.Minute,
			MigrateOnStart:  true,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:       "fieldops",
			AccessKeyEnv: "FIELDOPS_OBJECT_STORE_ACCESS_KEY",
			SecretKeyEnv: "FIELDOPS_OBJECT_STORE_SECRET_KEY",
		},
		AI: AIConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			VisionModel: "gpt-4o",
			APIKeyEnv:   "OPENAI_API_KEY",
			Timeout:     30 * time.Second,
			MaxTokens:   1000,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    250 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Driver:  "memory",
			AddrEnv: "FIELDOPS_REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Capability: CapabilityConfig{
			Cache: CacheConfig{TTL: 5 * time.Minute},
		},
		Procedures: ProceduresConfig{
			Directories: []string{"procedures"},
			SyncOnStart: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load layers a YAML file and FIELDOPS_* environment variables over
// Defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem with c, not just the first.
func (c *Config) Validate() error {
	var errs []error
	problem := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problem("server.port %d is outside 1-65535", c.Server.Port)
	}

	id := c.Identity
	if id.Issuer == "" {
		problem("identity.issuer is required")
	}
	if id.Audience == "" {
		problem("identity.audience is required")
	}
	if id.JWKSURL == "" && id.HMACSecretEnv == "" {
		problem("identity.jwks_url or identity.hmac_secret_env is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSNEnv == "" {
			problem("store.dsn_env is required for the postgres driver")
		}
	default:
		problem("store.driver %q is not supported (memory, postgres)", c.Store.Driver)
	}

	if c.ObjectStore.Endpoint != "" && c.ObjectStore.Bucket == "" {
		problem("object_store.bucket is required when an endpoint is set")
	}

	if c.AI.BaseURL == "" {
		problem("ai.base_url is required")
	}
	if r := c.AI.CircuitBreaker.ErrorRateThreshold; r < 0 || r > 1 {
		problem("ai.circuit_breaker.error_rate_threshold %v is outside 0-1", r)
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Driver {
		case "memory":
		case "redis":
			if c.Idempotency.AddrEnv == "" {
				problem("idempotency.addr_env is required for the redis driver")
			}
		default:
			problem("idempotency.driver %q is not supported (memory, redis)", c.Idempotency.Driver)
		}
	}

	return errors.Join(errs...)
}

type envOverride struct {
	name  string
	apply func(*Config, string)
}

// envOverrides are the settings most often changed per deployment. Values
// that fail to parse are ignored and the file's value stands.
var envOverrides = []envOverride{
	{"FIELDOPS_SERVER_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}},
	{"FIELDOPS_IDENTITY_ISSUER", func(c *Config, v string) { c.Identity.Issuer = v }},
	{"FIELDOPS_IDENTITY_AUDIENCE", func(c *Config, v string) { c.Identity.Audience = v }},
	{"FIELDOPS_IDENTITY_JWKS_URL", func(c *Config, v string) { c.Identity.JWKSURL = v }},
	{"FIELDOPS_STORE_DRIVER", func(c *Config, v string) { c.Store.Driver = v }},
	{"FIELDOPS_OBJECT_STORE_ENDPOINT", func(c *Config, v string) { c.ObjectStore.Endpoint = v }},
	{"FIELDOPS_AI_BASE_URL", func(c *Config, v string) { c.AI.BaseURL = v }},
	{"FIELDOPS_AI_MODEL", func(c *Config, v string) { c.AI.Model = v }},
	{"FIELDOPS_AI_TIMEOUT", func(c *Config, v string) {
		if d, err := time.ParseDuration(v); err == nil {
			c.AI.Timeout = d
		}
	}},
	{"FIELDOPS_IDEMPOTENCY_DRIVER", func(c *Config, v string) { c.Idempotency.Driver = v }},
	{"FIELDOPS_OBSERVABILITY_LOG_LEVEL", func(c *Config, v string) { c.Observability.LogLevel = v }},
	{"FIELDOPS_OBSERVABILITY_LOG_FORMAT", func(c *Config, v string) { c.Observability.LogFormat = v }},
}
