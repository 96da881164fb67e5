package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when no --config flag is given.
const DefaultPath = "config/config.yml"

type Config struct {
	Depthwatch DepthwatchConfig `yaml:"depthwatch"`
	Symbols    []string         `yaml:"symbols"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Source     SourceConfig     `yaml:"source"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Storage    StorageConfig    `yaml:"storage"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Console    ConsoleConfig    `yaml:"console"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type DepthwatchConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	UpdateBuffer    int           `yaml:"update_buffer"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

type SourceConfig struct {
	Binance BinanceSourceConfig `yaml:"binance"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type BinanceSourceConfig struct {
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	Snapshot       SnapshotConfig       `yaml:"snapshot"`
	Stream         StreamConfig         `yaml:"stream"`
	Reconnect      ReconnectConfig      `yaml:"reconnect"`
}

type SnapshotConfig struct {
	URL               string        `yaml:"url"`
	Limit             int           `yaml:"limit"`
	Timeout           time.Duration `yaml:"timeout"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
}

type StreamConfig struct {
	URL              string        `yaml:"url"`
	UpdateSpeed      string        `yaml:"update_speed"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// ReconnectConfig drives the delay between connection attempts:
// base_delay * multiplier^attempt, capped by max_delay when it is positive.
type ReconnectConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type AnalysisConfig struct {
	CycleInterval  time.Duration `yaml:"cycle_interval"`
	Window         time.Duration `yaml:"window"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	HumanThreshold float64       `yaml:"human_threshold"`
}

type StorageConfig struct {
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

type ArchiveConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	Compression     string        `yaml:"compression"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type MetricsConfig struct {
	PrometheusAddress string           `yaml:"prometheus_address"`
	ReportInterval    time.Duration    `yaml:"report_interval"`
	CloudWatch        CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
	HistoryLimit    int           `yaml:"history_limit"`
}

type ConsoleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	HistoryPoints   int           `yaml:"history_points"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Default returns a configuration that runs against the public Binance
// endpoints with the in-memory store.
func Default() Config {
	return Config{
		Depthwatch: DepthwatchConfig{Name: "depthwatch", Version: "dev"},
		Symbols:    []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "XRPUSDT"},
		Channels: ChannelsConfig{
			UpdateBuffer:    32,
			MetricsInterval: 5 * time.Second,
		},
		Source: SourceConfig{Binance: BinanceSourceConfig{
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
			Snapshot: SnapshotConfig{
				URL:               "https://api.binance.com",
				Limit:             20,
				Timeout:           10 * time.Second,
				Concurrency:       4,
				RequestsPerSecond: 10,
			},
			Stream: StreamConfig{
				URL:              "wss://stream.binance.com:9443/stream",
				UpdateSpeed:      "100ms",
				StaleAfter:       10 * time.Second,
				HandshakeTimeout: 10 * time.Second,
			},
			Reconnect: ReconnectConfig{
				BaseDelay:  5 * time.Second,
				Multiplier: 1.5,
			},
		}},
		Analysis: AnalysisConfig{
			CycleInterval:  100 * time.Millisecond,
			Window:         5 * time.Second,
			FlushInterval:  5 * time.Second,
			HumanThreshold: 0.6,
		},
		Storage: StorageConfig{
			Driver: "memory",
			Postgres: PostgresConfig{
				MaxConns:        4,
				MinConns:        1,
				ConnMaxLifetime: 30 * time.Minute,
				ConnectTimeout:  5 * time.Second,
			},
		},
		Archive: ArchiveConfig{
			S3: S3Config{
				Prefix:        "analysis",
				BatchSize:     500,
				FlushInterval: time.Minute,
				Compression:   "snappy",
			},
			Kafka: KafkaConfig{
				Topic:        "depthwatch.analysis",
				WriteTimeout: 5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			ReportInterval: time.Minute,
			CloudWatch:     CloudWatchConfig{Namespace: "Depthwatch"},
		},
		Dashboard: DashboardConfig{
			Address:         "0.0.0.0:8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      200,
			MetricsHistory:  200,
			HistoryLimit:    100,
		},
		Console: ConsoleConfig{
			Enabled:         true,
			RefreshInterval: time.Second,
			HistoryPoints:   20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// LoadConfig reads path on top of Default, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finalize(&config)
}

// LoadOrDefault resolves the environment specific file for the default path and
// falls back to built-in defaults when that file does not exist. An explicit
// path must exist. Production-like environments always require a file.
func LoadOrDefault(path string) (*Config, error) {
	explicit := path != "" && path != DefaultPath
	resolved := ResolvePath(path)

	cfg, err := LoadConfig(resolved)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.Is(err, fs.ErrNotExist) || IsProductionLike(AppEnvironment()) {
		return nil, err
	}

	config := Default()
	return finalize(&config)
}

func finalize(config *Config) (*Config, error) {
	applyEnvOverrides(config)
	config.Symbols = normalizeSymbols(config.Symbols)
	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)
	config.Storage.Driver = strings.ToLower(strings.TrimSpace(config.Storage.Driver))

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		config.Storage.Postgres.DSN = v
		if config.Storage.Driver == "" || config.Storage.Driver == "memory" {
			config.Storage.Driver = "postgres"
		}
	}

	// Override S3 settings from environment variables if available
	if config.Archive.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		config.Archive.Kafka.Brokers = brokers
	}
}

// normalizeSymbols upper-cases symbols and drops blanks and duplicates while
// keeping the configured order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var supportedUpdateSpeeds = map[string]struct{}{
	"100ms":  {},
	"1000ms": {},
}

func validateConfig(cfg *Config) error {
	if cfg.Depthwatch.Name == "" {
		return fmt.Errorf("depthwatch.name is required")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("symbols must contain at least one symbol")
	}

	if cfg.Channels.UpdateBuffer <= 0 {
		return fmt.Errorf("channels.update_buffer must be greater than 0")
	}

	bin := cfg.Source.Binance
	if bin.Snapshot.URL == "" {
		return fmt.Errorf("source.binance.snapshot.url is required")
	}
	if bin.Snapshot.Limit <= 0 {
		return fmt.Errorf("source.binance.snapshot.limit must be greater than 0")
	}
	if bin.Snapshot.Concurrency <= 0 {
		return fmt.Errorf("source.binance.snapshot.concurrency must be greater than 0")
	}
	if bin.Snapshot.RequestsPerSecond <= 0 {
		return fmt.Errorf("source.binance.snapshot.requests_per_second must be greater than 0")
	}
	if bin.Stream.URL == "" {
		return fmt.Errorf("source.binance.stream.url is required")
	}
	if _, ok := supportedUpdateSpeeds[bin.Stream.UpdateSpeed]; !ok {
		return fmt.Errorf("source.binance.stream.update_speed '%s' is not supported", bin.Stream.UpdateSpeed)
	}
	if bin.Stream.StaleAfter <= 0 {
		return fmt.Errorf("source.binance.stream.stale_after must be greater than 0")
	}
	if bin.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("source.binance.reconnect.base_delay must be greater than 0")
	}
	if bin.Reconnect.Multiplier < 1 {
		return fmt.Errorf("source.binance.reconnect.multiplier must be at least 1")
	}
	if bin.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("source.binance.reconnect.max_delay must not be negative")
	}

	if cfg.Analysis.CycleInterval <= 0 {
		return fmt.Errorf("analysis.cycle_interval must be greater than 0")
	}
	if cfg.Analysis.Window <= 0 {
		return fmt.Errorf("analysis.window must be greater than 0")
	}
	if cfg.Analysis.FlushInterval <= 0 {
		return fmt.Errorf("analysis.flush_interval must be greater than 0")
	}
	if cfg.Analysis.HumanThreshold < 0 || cfg.Analysis.HumanThreshold >= 1 {
		return fmt.Errorf("analysis.human_threshold must be in [0, 1)")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required when storage.driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver '%s' is not supported", cfg.Storage.Driver)
	}

	if cfg.Archive.S3.Enabled {
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when S3 is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
		if cfg.Archive.S3.BatchSize <= 0 {
			return fmt.Errorf("archive.s3.batch_size must be greater than 0")
		}
		if cfg.Archive.S3.FlushInterval <= 0 {
			return fmt.Errorf("archive.s3.flush_interval must be greater than 0")
		}
	}

	if cfg.Archive.Kafka.Enabled {
		if len(cfg.Archive.Kafka.Brokers) == 0 {
			return fmt.Errorf("archive.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Archive.Kafka.Topic == "" {
			return fmt.Errorf("archive.kafka.topic is required when Kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
