// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Redis, Kafka, Index, RateLimit, Auth).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Index     IndexConfig     `yaml:"index"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds connection parameters for the document store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters and the TTL assigned to each
// cache class. TTLs are chosen by staleness tolerance of the underlying data,
// not by key name.
type RedisConfig struct {
	Addr     string    `yaml:"addr"`
	Password string    `yaml:"password"`
	DB       int       `yaml:"db"`
	PoolSize int       `yaml:"poolSize"`
	TTL      CacheTTLs `yaml:"ttl"`
}

// CacheTTLs maps each cache class to its entry lifetime.
type CacheTTLs struct {
	Profile     time.Duration `yaml:"profile"`
	ProfileList time.Duration `yaml:"profileList"`
	Search      time.Duration `yaml:"search"`
	Invitation  time.Duration `yaml:"invitation"`
	AuthToken   time.Duration `yaml:"authToken"`
}

// KafkaConfig holds Kafka broker and topic settings. When disabled, cache
// invalidations stay process-local.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CacheInvalidate string `yaml:"cacheInvalidate"`
}

// IndexConfig controls the search index rebuild cadence.
type IndexConfig struct {
	RebuildInterval time.Duration `yaml:"rebuildInterval"`
}

// RateLimitConfig controls per-identity admission windows.
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	MaxAdmissions int           `yaml:"maxAdmissions"`
}

// AuthConfig holds the external token verifier endpoint. The cached
// verification TTL (Redis.TTL.AuthToken) must stay shorter than the
// provider's own token validity window.
type AuthConfig struct {
	VerifyURL     string        `yaml:"verifyUrl"`
	VerifyTimeout time.Duration `yaml:"verifyTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "peerdir",
			User:            "peerdir",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			TTL: CacheTTLs{
				Profile:     5 * time.Minute,
				ProfileList: 5 * time.Minute,
				Search:      3 * time.Minute,
				Invitation:  1 * time.Minute,
				AuthToken:   5 * time.Minute,
			},
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "peerdir-group",
			Topics: KafkaTopics{
				CacheInvalidate: "cache-invalidate",
			},
		},
		Index: IndexConfig{
			RebuildInterval: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window:        60 * time.Second,
			MaxAdmissions: 100,
		},
		Auth: AuthConfig{
			VerifyURL:     "http://localhost:9099/verify",
			VerifyTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MX_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("MX_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("MX_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("MX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MX_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("MX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("MX_INDEX_REBUILD_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Index.RebuildInterval = d
		}
	}
	if v := os.Getenv("MX_RATELIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.Window = d
		}
	}
	if v := os.Getenv("MX_RATELIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MaxAdmissions = n
		}
	}
	if v := os.Getenv("MX_AUTH_VERIFY_URL"); v != "" {
		cfg.Auth.VerifyURL = v
	}
	if v := os.Getenv("MX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MX_TTL_PROFILE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL.Profile = d
		}
	}
	if v := os.Getenv("MX_TTL_PROFILE_LIST"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL.ProfileList = d
		}
	}
	if v := os.Getenv("MX_TTL_SEARCH"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL.Search = d
		}
	}
	if v := os.Getenv("MX_TTL_INVITATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL.Invitation = d
		}
	}
	if v := os.Getenv("MX_TTL_AUTH_TOKEN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Redis.TTL.AuthToken = d
		}
	}
}
