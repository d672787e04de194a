package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const ConfigurationTemplate = `{
  "database_file_path": "kv.db",
  "index_file_path": "kv.index",
  "wal_file_path": "",
  "flush_interval_millis": 100,
  "sync_on_write": false,
  "default_ttl_millis": 0,
  "preload_on_open": true,
  "max_memory_keys": 0,
  "max_key_bytes": 4096,
  "compaction_interval_millis": 3600000,
  "compaction_threshold_ratio": 0.5,
  "checkpoint_interval_millis": 600000,
  "wal_size_threshold_bytes": 5242880,
  "log_directory_path": "./logs",
  "log_severity_level": "INFO",
  "server_port": 8080,
  "authentication_secret": "CHANGE_ME",
  "enable_prometheus_metrics": true,
  "request_rate_limit_per_second": 0
}`

const (
	DefaultFlushIntervalMillis      = 100
	DefaultCompactionIntervalMillis = 3_600_000
	DefaultCompactionThresholdRatio = 0.5
	DefaultCheckpointIntervalMillis = 600_000
	DefaultWALSizeThresholdBytes    = 5 * 1024 * 1024
	DefaultMaxKeyBytes              = 4096
	DefaultServerPort               = 8080
)

// EnvironmentPrefix is prepended to environment overrides, so
// DURAKV_SERVER_PORT=9090 beats the config file's server_port.
const EnvironmentPrefix = "DURAKV_"

type SystemConfiguration struct {
	DatabaseFilePath          string  `json:"database_file_path" mapstructure:"database_file_path"`
	IndexFilePath             string  `json:"index_file_path" mapstructure:"index_file_path"`
	WALFilePath               string  `json:"wal_file_path" mapstructure:"wal_file_path"`
	FlushIntervalMillis       int64   `json:"flush_interval_millis" mapstructure:"flush_interval_millis"`
	SyncOnWrite               bool    `json:"sync_on_write" mapstructure:"sync_on_write"`
	DefaultTTLMillis          int64   `json:"default_ttl_millis" mapstructure:"default_ttl_millis"`
	PreloadOnOpen             bool    `json:"preload_on_open" mapstructure:"preload_on_open"`
	MaxMemoryKeys             int     `json:"max_memory_keys" mapstructure:"max_memory_keys"`
	MaxKeyBytes               int     `json:"max_key_bytes" mapstructure:"max_key_bytes"`
	CompactionIntervalMillis  int64   `json:"compaction_interval_millis" mapstructure:"compaction_interval_millis"`
	CompactionThresholdRatio  float64 `json:"compaction_threshold_ratio" mapstructure:"compaction_threshold_ratio"`
	CheckpointIntervalMillis  int64   `json:"checkpoint_interval_millis" mapstructure:"checkpoint_interval_millis"`
	WALSizeThresholdBytes     int64   `json:"wal_size_threshold_bytes" mapstructure:"wal_size_threshold_bytes"`
	LogDirectoryPath          string  `json:"log_directory_path" mapstructure:"log_directory_path"`
	LogSeverityLevel          string  `json:"log_severity_level" mapstructure:"log_severity_level"`
	ServerPort                int     `json:"server_port" mapstructure:"server_port"`
	AuthenticationToken       string  `json:"authentication_token" mapstructure:"authentication_token"`
	AuthenticationSecret      string  `json:"authentication_secret" mapstructure:"authentication_secret"`
	EnablePrometheusMetrics   bool    `json:"enable_prometheus_metrics" mapstructure:"enable_prometheus_metrics"`
	RequestRateLimitPerSecond float64 `json:"request_rate_limit_per_second" mapstructure:"request_rate_limit_per_second"`
}

func Defaults() SystemConfiguration {
	return SystemConfiguration{
		DatabaseFilePath:         "kv.db",
		IndexFilePath:            "kv.index",
		FlushIntervalMillis:      DefaultFlushIntervalMillis,
		PreloadOnOpen:            true,
		MaxKeyBytes:              DefaultMaxKeyBytes,
		CompactionIntervalMillis: DefaultCompactionIntervalMillis,
		CompactionThresholdRatio: DefaultCompactionThresholdRatio,
		CheckpointIntervalMillis: DefaultCheckpointIntervalMillis,
		WALSizeThresholdBytes:    DefaultWALSizeThresholdBytes,
		LogDirectoryPath:         "./logs",
		LogSeverityLevel:         "INFO",
		ServerPort:               DefaultServerPort,
		AuthenticationSecret:     "DEFAULT_SECRET_CHANGE_ME_IN_PROD",
		EnablePrometheusMetrics:  true,
	}
}

// LoadConfigurationFromFile reads the JSON config file (optional), then lets
// DURAKV_-prefixed environment variables override individual fields. The WAL
// path defaults to "<index path>.wal" when left empty.
func LoadConfigurationFromFile(filePath string) (SystemConfiguration, error) {
	config := Defaults()

	if filePath != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return config, fmt.Errorf("failed to open configuration file: %w", err)
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return config, fmt.Errorf("failed to decode configuration json: %w", err)
		}
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return config, err
	}

	if config.WALFilePath == "" {
		config.WALFilePath = config.IndexFilePath + ".wal"
	}
	return config, nil
}

func applyEnvironmentOverrides(config *SystemConfiguration) error {
	v := viper.New()

	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		key, value := pair[0], pair[1]

		if !strings.HasPrefix(key, EnvironmentPrefix) {
			continue
		}
		// DURAKV_SERVER_PORT -> server_port
		propKey := strings.ToLower(strings.TrimPrefix(key, EnvironmentPrefix))
		v.Set(propKey, value)
	}

	// Environment values arrive as strings; let the decoder coerce them
	// into ints, bools and floats.
	weaklyTyped := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(config, weaklyTyped); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}
