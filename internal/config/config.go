// Package config loads the collector server's configuration from YAML
// with COLLECTORD_*-prefixed environment variable overrides, matching
// the teacher's LoadConfig/applyEnvironmentOverrides/ValidateConfig
// shape in internal/config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"logcollectord/internal/collector"
	"logcollectord/pkg/apperr"
	"logcollectord/pkg/compression"
	"logcollectord/pkg/logentry"
)

// ServerConfig is the TCP transport's listen configuration.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Port       int    `yaml:"port"`
	NumThreads int    `yaml:"numThreads"`
}

// KafkaAuthConfig configures SASL/SCRAM on the Kafka uplink.
type KafkaAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Mechanism string `yaml:"mechanism"`
}

// KafkaUplinkConfig configures the Kafka-backed uplink alternative.
type KafkaUplinkConfig struct {
	Brokers  []string        `yaml:"brokers"`
	Topic    string          `yaml:"topic"`
	Timeout  string          `yaml:"timeout"`
	RetryMax int             `yaml:"retryMax"`
	Auth     KafkaAuthConfig `yaml:"auth"`
}

// UplinkConfig selects and configures the Processor uplink.
type UplinkConfig struct {
	Protocol string            `yaml:"protocol"` // "tcp" or "kafka"
	Address  string            `yaml:"address"`  // tcp: host:port
	Kafka    KafkaUplinkConfig `yaml:"kafka"`
}

// DefaultCollectorConfig supplies every session's collector settings. A
// `start` message's level and compress fields always replace minLevel
// and compressLogs (an omitted level means INFO, an omitted compress
// means false), so those two settings here do not reach sessions.
type DefaultCollectorConfig struct {
	BatchSize      int    `yaml:"batchSize"`
	FlushInterval  string `yaml:"flushInterval"`
	MaxQueueSize   int    `yaml:"maxQueueSize"`
	ThreadPoolSize int    `yaml:"threadPoolSize"`
	MemoryPoolSize int    `yaml:"memoryPoolSize"`
	MinLevel       string `yaml:"minLevel"`
	CompressLogs   bool   `yaml:"compressLogs"`
	CompressAlgo   string `yaml:"compressAlgorithm"`
	EnableRetry    bool   `yaml:"enableRetry"`
	MaxRetryCount  int    `yaml:"maxRetryCount"`
	RetryInterval  string `yaml:"retryInterval"`
}

// StorageConfig carries the raw JSON documents the Storage Factory parses
// per sink kind; kept as a name -> JSON-document map since each sink's
// shape differs and only the factory knows how to parse it.
type StorageConfig struct {
	Row map[string]string `yaml:"row"`
	KV  map[string]string `yaml:"kv"`
}

// AdminConfig is the admin/health HTTP surface's bind address.
type AdminConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	Port       int    `yaml:"port"`
}

// Config is the collector server's root configuration document.
type Config struct {
	LogLevel  string                 `yaml:"logLevel"`
	Server    ServerConfig           `yaml:"server"`
	Uplink    UplinkConfig           `yaml:"uplink"`
	Collector DefaultCollectorConfig `yaml:"collector"`
	Admin     AdminConfig            `yaml:"admin"`
	Storage   StorageConfig          `yaml:"storage"`
}

// Load reads configFile (if non-empty), applies defaults, then applies
// COLLECTORD_*-prefixed environment overrides, and validates the result.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", configFile, err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Uplink.Protocol == "" {
		cfg.Uplink.Protocol = "tcp"
	}
	if cfg.Uplink.Address == "" {
		cfg.Uplink.Address = "127.0.0.1:9001"
	}
	if cfg.Collector.BatchSize == 0 {
		cfg.Collector.BatchSize = 10
	}
	if cfg.Collector.FlushInterval == "" {
		cfg.Collector.FlushInterval = "1s"
	}
	if cfg.Collector.MaxQueueSize == 0 {
		cfg.Collector.MaxQueueSize = 1000
	}
	if cfg.Collector.ThreadPoolSize == 0 {
		cfg.Collector.ThreadPoolSize = 2
	}
	if cfg.Collector.MinLevel == "" {
		cfg.Collector.MinLevel = "INFO"
	}
	if cfg.Collector.CompressAlgo == "" {
		cfg.Collector.CompressAlgo = "gzip"
	}
	if cfg.Collector.RetryInterval == "" {
		cfg.Collector.RetryInterval = "1s"
	}
	if cfg.Collector.MaxRetryCount == 0 {
		cfg.Collector.MaxRetryCount = 3
	}
	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = "0.0.0.0"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 9100
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.LogLevel = getEnvString("COLLECTORD_LOG_LEVEL", cfg.LogLevel)
	cfg.Server.ListenAddr = getEnvString("COLLECTORD_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.Port = getEnvInt("COLLECTORD_PORT", cfg.Server.Port)
	cfg.Server.NumThreads = getEnvInt("COLLECTORD_NUM_THREADS", cfg.Server.NumThreads)

	cfg.Uplink.Protocol = getEnvString("COLLECTORD_UPLINK_PROTOCOL", cfg.Uplink.Protocol)
	cfg.Uplink.Address = getEnvString("COLLECTORD_UPLINK_ADDRESS", cfg.Uplink.Address)

	cfg.Collector.BatchSize = getEnvInt("COLLECTORD_BATCH_SIZE", cfg.Collector.BatchSize)
	cfg.Collector.FlushInterval = getEnvString("COLLECTORD_FLUSH_INTERVAL", cfg.Collector.FlushInterval)
	cfg.Collector.MaxQueueSize = getEnvInt("COLLECTORD_MAX_QUEUE_SIZE", cfg.Collector.MaxQueueSize)
	cfg.Collector.MinLevel = getEnvString("COLLECTORD_MIN_LEVEL", cfg.Collector.MinLevel)
	cfg.Collector.EnableRetry = getEnvBool("COLLECTORD_ENABLE_RETRY", cfg.Collector.EnableRetry)

	cfg.Admin.ListenAddr = getEnvString("COLLECTORD_ADMIN_LISTEN_ADDR", cfg.Admin.ListenAddr)
	cfg.Admin.Port = getEnvInt("COLLECTORD_ADMIN_PORT", cfg.Admin.Port)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// Validate rejects configuration combinations the pipeline cannot honor.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return apperr.InvalidConfig("config", "server.port must be > 0")
	}
	if cfg.Collector.BatchSize < 1 {
		return apperr.InvalidConfig("config", "collector.batchSize must be >= 1")
	}
	if cfg.Collector.MaxQueueSize < 0 {
		return apperr.InvalidConfig("config", "collector.maxQueueSize must be >= 0")
	}
	flushInterval, err := time.ParseDuration(cfg.Collector.FlushInterval)
	if err != nil {
		return apperr.InvalidConfig("config", "collector.flushInterval: "+err.Error())
	}
	if flushInterval < 0 {
		return apperr.InvalidConfig("config", "collector.flushInterval must be >= 0")
	}
	retryInterval, err := time.ParseDuration(cfg.Collector.RetryInterval)
	if err != nil {
		return apperr.InvalidConfig("config", "collector.retryInterval: "+err.Error())
	}
	if retryInterval < 0 {
		return apperr.InvalidConfig("config", "collector.retryInterval must be >= 0")
	}
	switch cfg.Uplink.Protocol {
	case "tcp", "kafka":
	default:
		return apperr.InvalidConfig("config", "uplink.protocol must be tcp or kafka")
	}
	return nil
}

// ToCollectorConfig converts the YAML-level default collector config into
// the collector package's runtime Config.
func (c DefaultCollectorConfig) ToCollectorConfig() collector.Config {
	flush, _ := time.ParseDuration(c.FlushInterval)
	retryInterval, _ := time.ParseDuration(c.RetryInterval)
	return collector.Config{
		BatchSize:      c.BatchSize,
		FlushInterval:  flush,
		MaxQueueSize:   c.MaxQueueSize,
		ThreadPoolSize: c.ThreadPoolSize,
		MemoryPoolSize: c.MemoryPoolSize,
		MinLevel:       logentry.ParseLevel(c.MinLevel),
		CompressLogs:   c.CompressLogs,
		CompressAlgo:   compression.Algorithm(c.CompressAlgo),
		EnableRetry:    c.EnableRetry,
		MaxRetryCount:  c.MaxRetryCount,
		RetryInterval:  retryInterval,
	}
}
