// Package config loads application configuration from YAML files with
// environment-variable overrides; loaded values are not validated. It provides typed structs for
// every subsystem of the query execution core (block store, cache, PSS,
// ranking, augmentation) plus the operational sidecars (Postgres, Kafka,
// Redis, logging, tracing, metrics).
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
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Block    BlockConfig    `yaml:"block"`
	Cache    CacheConfig    `yaml:"cache"`
	PSS      PSSConfig      `yaml:"pss"`
	DAR      DARConfig      `yaml:"dar"`
	Augment  AugmentConfig  `yaml:"augment"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds the binary query protocol listener settings (§6.1/§6.5)
// plus the admin HTTP surface (health/metrics).
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminPort       int           `yaml:"adminPort"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters for the query audit
// log (internal/auditlog).
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

// KafkaConfig holds Kafka broker and topic settings for query-analytics
// events and cache-invalidation notifications (internal/events).
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
	IndexComplete   string `yaml:"indexComplete"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// BlockConfig controls the Compressed Block Store (§4.1).
type BlockConfig struct {
	DataDir      string `yaml:"dataDir"`
	MaxBlockSize int64  `yaml:"maxBlockSize"`
}

// CacheConfig controls the Block Cache (§4.2).
type CacheConfig struct {
	MaxByteNum   int64 `yaml:"maxByteNum"`
	ChainStride  int64 `yaml:"chainStride"`
	HashHeaderKB int   `yaml:"hashHeaderKb"`
}

// PSSConfig controls the Priority Spatial Search (§4.5).
type PSSConfig struct {
	TitlePartLevel   int `yaml:"titlePartLevel"`
	ExcerptPartLevel int `yaml:"excerptPartLevel"`
	RegionQueueCap   int `yaml:"regionQueueCap"`
	TitleHitCap      int `yaml:"titleHitCap"`
	DefaultMaxIt     int `yaml:"defaultMaxIt"`
}

// DARConfig controls the Document Assembler & Ranker (§4.6).
type DARConfig struct {
	QueueCapacity int `yaml:"queueCapacity"`
}

// AugmentConfig controls keyword augmentation (§4.8).
type AugmentConfig struct {
	KeywordBag               []string `yaml:"keywordBag"`
	ExcerptIterationCeiling  int      `yaml:"excerptIterationCeiling"`
	KeywordIterationCeiling  int      `yaml:"keywordIterationCeiling"`
	AugmentorQueueCapacity   int      `yaml:"augmentorQueueCapacity"`
}

// SearchConfig controls process-wide query admission limits.
type SearchConfig struct {
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
	TimeoutPerShard      time.Duration `yaml:"timeoutPerShard"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls distributed tracing (sample rate, endpoint).
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sampleRate"`
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

// defaultConfig returns a Config with the defaults spec.md pins (block size
// 1 500 000, cache budget 500MB, part levels 15/5, queue caps 8 000/30 000).
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9200",
			AdminPort:       9290,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "querycore",
			User:            "querycore",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "querycore-group",
			Topics: KafkaTopics{
				AnalyticsEvents: "query-analytics-events",
				IndexComplete:   "index.complete",
				CacheInvalidate: "cache-invalidate",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Block: BlockConfig{
			DataDir:      "./data/postings",
			MaxBlockSize: 1_500_000,
		},
		Cache: CacheConfig{
			MaxByteNum:   500 * 1024 * 1024,
			ChainStride:  1 << 20,
			HashHeaderKB: 256,
		},
		PSS: PSSConfig{
			TitlePartLevel:   15,
			ExcerptPartLevel: 5,
			RegionQueueCap:   8000,
			TitleHitCap:      3000,
			DefaultMaxIt:     200000,
		},
		DAR: DARConfig{
			QueueCapacity: 30000,
		},
		Augment: AugmentConfig{
			KeywordBag:              []string{"0000000000", "0000000001", "0000000002"},
			ExcerptIterationCeiling: 1_000_000,
			KeywordIterationCeiling: 100_000,
			AugmentorQueueCapacity:  8000,
		},
		Search: SearchConfig{
			MaxConcurrentQueries: 64,
			TimeoutPerShard:      2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Endpoint:   "",
			SampleRate: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads QC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QC_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("QC_SERVER_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.AdminPort = port
		}
	}
	if v := os.Getenv("QC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("QC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("QC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("QC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("QC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("QC_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("QC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("QC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QC_BLOCK_DATA_DIR"); v != "" {
		cfg.Block.DataDir = v
	}
	if v := os.Getenv("QC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
