// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Elasticsearch, API, Redis, Kafka, Postgres, Analytics, etc.).
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
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	API           APIConfig           `yaml:"api"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimitPerMinute caps requests per client address. Zero disables it.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// IsDevelopment reports whether error details may be exposed to callers.
func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

// ElasticsearchConfig points at the audit index and bounds each query.
type ElasticsearchConfig struct {
	URL            string               `yaml:"url"`
	Index          string               `yaml:"index"`
	Username       string               `yaml:"username"`
	Password       string               `yaml:"password"`
	RequestTimeout time.Duration        `yaml:"requestTimeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig controls fail-fast behaviour towards the index.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// APIConfig holds paging defaults and aggregation bounds.
type APIConfig struct {
	DefaultPageSize int    `yaml:"defaultPageSize"`
	MaxPageSize     int    `yaml:"maxPageSize"`
	DefaultSort     string `yaml:"defaultSort"`
	HistoryLimit    int    `yaml:"historyLimit"`
	CatalogSize     int    `yaml:"catalogSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AuditLookups string `yaml:"auditLookups"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// AnalyticsConfig controls lookup analytics collection and snapshotting.
type AnalyticsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
	// BatchSize > 0 publishes lookups in batches instead of one by one.
	BatchSize         int           `yaml:"batchSize"`
	FlushInterval     time.Duration `yaml:"flushInterval"`
	SnapshotInterval  time.Duration `yaml:"snapshotInterval"`
	SnapshotRetention time.Duration `yaml:"snapshotRetention"`
	Port              int           `yaml:"port"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
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
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Elasticsearch.URL == "" {
		return fmt.Errorf("elasticsearch.url must not be empty")
	}
	if c.Elasticsearch.Index == "" {
		return fmt.Errorf("elasticsearch.index must not be empty")
	}
	if c.API.DefaultPageSize <= 0 || c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api page sizes invalid: default=%d max=%d", c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	if c.API.HistoryLimit <= 0 {
		return fmt.Errorf("api.historyLimit must be positive")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Environment:     "development",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			URL:            "http://localhost:9200",
			Index:          "nuxeo-audit",
			RequestTimeout: 30 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		API: APIConfig{
			DefaultPageSize: 100,
			MaxPageSize:     1000,
			DefaultSort:     "eventDate:asc",
			HistoryLimit:    1000,
			CatalogSize:     100,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "auditlens",
			User:            "auditlens",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "auditlens-analytics",
			Topics: KafkaTopics{
				AuditLookups: "audit-lookups",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			BufferSize:        10000,
			FlushInterval:     5 * time.Second,
			SnapshotInterval:  time.Minute,
			SnapshotRetention: 30 * 24 * time.Hour,
			Port:              3001,
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

// applyEnvOverrides reads AUDITLENS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUDITLENS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AUDITLENS_ENVIRONMENT"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("AUDITLENS_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("AUDITLENS_ELASTICSEARCH_URL"); v != "" {
		cfg.Elasticsearch.URL = v
	}
	if v := os.Getenv("AUDITLENS_ELASTICSEARCH_INDEX"); v != "" {
		cfg.Elasticsearch.Index = v
	}
	if v := os.Getenv("AUDITLENS_ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("AUDITLENS_ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("AUDITLENS_ELASTICSEARCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Elasticsearch.RequestTimeout = d
		}
	}
	if v := os.Getenv("AUDITLENS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("AUDITLENS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("AUDITLENS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("AUDITLENS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("AUDITLENS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("AUDITLENS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AUDITLENS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AUDITLENS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AUDITLENS_ANALYTICS_ENABLED"); v != "" {
		cfg.Analytics.Enabled = v == "true"
	}
	if v := os.Getenv("AUDITLENS_ANALYTICS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.BatchSize = n
		}
	}
	if v := os.Getenv("AUDITLENS_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("AUDITLENS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AUDITLENS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
