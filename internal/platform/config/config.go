// Package config loads process configuration: defaults, then an optional YAML
// file, then EFILE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"efile/internal/retry"
)

// EnvPrefix is the environment variable prefix, e.g. EFILE_SERVER_ADDR.
const EnvPrefix = "EFILE"

type Config struct {
	Environment string      `yaml:"environment"`
	Server      Server      `yaml:"server"`
	Logging     Logging     `yaml:"logging"`
	Database    Database    `yaml:"database"`
	Redis       RedisConfig `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	MeF         MeF         `yaml:"mef"`
	Credentials Credentials `yaml:"credentials"`
	Schema      Schema      `yaml:"schema"`
	Builder     Builder     `yaml:"builder"`
	Consistency Consistency `yaml:"consistency"`
	Optimizer   Optimizer   `yaml:"optimizer"`
	Retry       Retry       `yaml:"retry"`
	Poller      Poller      `yaml:"poller"`
	Pipeline    Pipeline    `yaml:"pipeline"`
}

// Server captures the operations HTTP surface.
type Server struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	// WebhookSecretHash is the bcrypt hash of the bearer secret MeF presents
	// when pushing acknowledgments.
	WebhookSecretHash string `yaml:"webhook_secret_hash" split_words:"true"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Database selects the submission store: memory, sqlite or postgres.
type Database struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	SQLitePath      string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" split_words:"true"`
	MaxIdleConns    int           `yaml:"max_idle_conns" split_words:"true"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// RedisConfig enables the Redis retry scheduler and schema cache when URL is set.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size" split_words:"true"`
	MinIdleConns int           `yaml:"min_idle_conns" split_words:"true"`
	DialTimeout  time.Duration `yaml:"dial_timeout" split_words:"true"`
	ReadTimeout  time.Duration `yaml:"read_timeout" split_words:"true"`
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
}

// Kafka enables alert publishing and the audit relay when Brokers is set.
type Kafka struct {
	Brokers    []string `yaml:"brokers"`
	ClientID   string   `yaml:"client_id" split_words:"true"`
	AlertTopic string   `yaml:"alert_topic" split_words:"true"`
}

// MeF is the transport endpoint.
type MeF struct {
	BaseURL         string        `yaml:"base_url" split_words:"true"`
	Timeout         time.Duration `yaml:"timeout"`
	TokenTTL        time.Duration `yaml:"token_ttl" split_words:"true"`
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	BreakerFailures int           `yaml:"breaker_failures" split_words:"true"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" split_words:"true"`
	// AckSigningRootCA is a PEM bundle that signed acknowledgments must chain
	// to. Without it any self-signed acknowledgment certificate is accepted,
	// so it is required in production.
	AckSigningRootCA string `yaml:"ack_signing_root_ca" split_words:"true"`
}

type Credentials struct {
	Dir        string        `yaml:"dir"`
	Passphrase string        `yaml:"passphrase"`
	Validity   time.Duration `yaml:"validity"`
	KeyBits    int           `yaml:"key_bits" split_words:"true"`
	CommonName string        `yaml:"common_name" split_words:"true"`
}

// Schema points at extra schema definitions layered over the built-in set.
type Schema struct {
	Dir string `yaml:"dir"`
}

type Builder struct {
	SoftwareID string `yaml:"software_id" split_words:"true"`
}

type Consistency struct {
	Tolerance  string        `yaml:"tolerance"`
	RateMaxAge time.Duration `yaml:"rate_max_age" split_words:"true"`
}

type Optimizer struct {
	MaxSize int `yaml:"max_size" split_words:"true"`
	Level   int `yaml:"level"`
}

// Retry overrides the per-category retry policies.
type Retry struct {
	Validation retry.Policy `yaml:"validation"`
	Submission retry.Policy `yaml:"submission"`
	System     retry.Policy `yaml:"system"`
}

// Policies returns the overrides as a map keyed by category.
func (r Retry) Policies() map[retry.Category]retry.Policy {
	return map[retry.Category]retry.Policy{
		retry.CategoryValidation: r.Validation,
		retry.CategorySubmission: r.Submission,
		retry.CategorySystem:     r.System,
	}
}

type Poller struct {
	Interval  time.Duration `yaml:"interval"`
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batch_size" split_words:"true"`
}

type Pipeline struct {
	BatchConcurrency int `yaml:"batch_concurrency" split_words:"true"`
}

// Default returns the built-in configuration.
func Default() *Config {
	policies := retry.DefaultPolicies()
	return &Config{
		Environment: "development",
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Logging:  Logging{Level: "info", Format: "text"},
		Database: Database{Driver: "memory", SQLitePath: "efile.db", MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{ClientID: "efile", AlertTopic: "efile.alerts"},
		MeF: MeF{
			Timeout:         30 * time.Second,
			TokenTTL:        5 * time.Minute,
			Issuer:          "efile",
			Audience:        "mef",
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Credentials: Credentials{
			Dir:        "credentials",
			Validity:   365 * 24 * time.Hour,
			KeyBits:    2048,
			CommonName: "efile transmitter",
		},
		Builder:     Builder{SoftwareID: "EFILEGO1"},
		Consistency: Consistency{Tolerance: "0.01", RateMaxAge: 24 * time.Hour},
		Optimizer:   Optimizer{MaxSize: 10 << 20, Level: 9},
		Retry: Retry{
			Validation: policies[retry.CategoryValidation],
			Submission: policies[retry.CategorySubmission],
			System:     policies[retry.CategorySystem],
		},
		Poller:   Poller{Interval: 30 * time.Second, Workers: 4, BatchSize: 50},
		Pipeline: Pipeline{BatchConcurrency: 8},
	}
}

// Load applies path (when non-empty) and the environment over the defaults,
// then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.Kafka.Brokers = dedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, sqlite, postgres", c.Database.Driver))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	for cat, p := range c.Retry.Policies() {
		if p.MaxRetries < 0 || p.BaseDelay < 0 {
			errs = append(errs, fmt.Errorf("retry policy %s must not be negative", cat))
		}
	}
	if c.Optimizer.MaxSize <= 0 {
		errs = append(errs, errors.New("optimizer.max_size must be positive"))
	}
	if c.Poller.Workers <= 0 {
		errs = append(errs, errors.New("poller.workers must be positive"))
	}
	if c.Credentials.Dir == "" {
		errs = append(errs, errors.New("credentials.dir is required"))
	}
	if c.IsProduction() && c.MeF.AckSigningRootCA == "" {
		errs = append(errs, errors.New("mef.ack_signing_root_ca is required in production"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// dedupeAndTrim drops blank and repeated entries of a comma-split list,
// keeping first-seen order.
func dedupeAndTrim(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
