package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Store mode flags selecting which global-store backend(s) are active.
const (
	ModeLegacy      = "legacy"      // replicated-database backend only
	ModeDistributed = "distributed" // RPC-backed store only
	ModeBoth        = "both"        // RPC-backed preferred, legacy fallback
	ModeMemory      = "memory"      // in-memory store, isolated testing
)

// Election backend flags.
const (
	ElectionRedis = "redis"
	ElectionBlob  = "blob"
)

// Config represents the application configuration
type Config struct {
	Machine  MachineConfig  `mapstructure:"machine"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Store    StoreConfig    `mapstructure:"store"`
	Election ElectionConfig `mapstructure:"election"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// MachineConfig identifies this fleet member.
type MachineConfig struct {
	// Address is the advertised host:port other machines use to reach
	// this process's location service.
	Address string `mapstructure:"address"`
}

// RedisConfig contains the replicated-database connection tunables.
type RedisConfig struct {
	Primary   string `mapstructure:"primary"`
	Secondary string `mapstructure:"secondary"`
	Keyspace  string `mapstructure:"keyspace"`

	ConnectionErrorLimit        int           `mapstructure:"connection_error_limit"`
	ReconnectLimitBeforeRestart int           `mapstructure:"reconnect_limit_before_restart"`
	MinReconnectInterval        time.Duration `mapstructure:"min_reconnect_interval"`
	OperationTimeout            time.Duration `mapstructure:"operation_timeout"`

	// SeparateBlobConnection isolates large-blob operations on their own
	// physical connection instead of sharing the primary multiplexer.
	SeparateBlobConnection bool `mapstructure:"separate_blob_connection"`

	// TreatDisposedAsTransient retries operations that raced with a client
	// teardown instead of failing them.
	TreatDisposedAsTransient bool `mapstructure:"treat_disposed_as_transient"`
}

// StoreConfig selects the global-store backend and local database tunables.
type StoreConfig struct {
	Mode     string        `mapstructure:"mode"`
	LocalDir string        `mapstructure:"local_dir"`
	EntryTTL time.Duration `mapstructure:"entry_ttl"`
}

// ElectionConfig selects and tunes the master election strategy.
type ElectionConfig struct {
	Backend   string        `mapstructure:"backend"`
	LeaseName string        `mapstructure:"lease_name"`
	LeaseTTL  time.Duration `mapstructure:"lease_ttl"`
	Blob      BlobConfig    `mapstructure:"blob"`
}

// BlobConfig locates the object store used by the blob-lease election.
type BlobConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// ServerConfig contains location-service listener configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/locstore")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("LOCSTORE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("machine.address", "")

	v.SetDefault("redis.primary", "")
	v.SetDefault("redis.secondary", "")
	v.SetDefault("redis.keyspace", "")
	v.SetDefault("redis.connection_error_limit", 5)
	v.SetDefault("redis.reconnect_limit_before_restart", 10)
	v.SetDefault("redis.min_reconnect_interval", "1s")
	v.SetDefault("redis.operation_timeout", "10s")
	v.SetDefault("redis.separate_blob_connection", false)
	v.SetDefault("redis.treat_disposed_as_transient", false)

	v.SetDefault("store.mode", ModeLegacy)
	v.SetDefault("store.local_dir", "")
	v.SetDefault("store.entry_ttl", "24h")

	v.SetDefault("election.backend", ElectionRedis)
	v.SetDefault("election.lease_name", "master-lease")
	v.SetDefault("election.lease_ttl", "30s")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 9380)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// RedisNeeded reports whether any active component talks to the
// replicated database.
func (c *Config) RedisNeeded() bool {
	switch c.Store.Mode {
	case ModeLegacy, ModeBoth:
		return true
	}
	return c.Election.Backend == ElectionRedis
}

// Validate fails fast on invalid configuration, before any network
// activity happens.
func Validate(config *Config) error {
	if config.Machine.Address == "" {
		return fmt.Errorf("machine.address is required")
	}

	switch config.Store.Mode {
	case ModeLegacy, ModeDistributed, ModeBoth, ModeMemory:
	default:
		return fmt.Errorf("store.mode must be one of legacy, distributed, both, memory; got %q", config.Store.Mode)
	}

	switch config.Election.Backend {
	case ElectionRedis, ElectionBlob:
	default:
		return fmt.Errorf("election.backend must be redis or blob; got %q", config.Election.Backend)
	}

	if config.RedisNeeded() {
		if config.Redis.Primary == "" {
			return fmt.Errorf("redis.primary is required for store mode %q with election backend %q", config.Store.Mode, config.Election.Backend)
		}
		if config.Redis.Keyspace == "" {
			return fmt.Errorf("redis.keyspace is required")
		}
	}

	if config.Election.Backend == ElectionBlob && config.Election.Blob.Bucket == "" {
		return fmt.Errorf("election.blob.bucket is required for blob-lease election")
	}

	if config.Election.LeaseTTL <= 0 {
		return fmt.Errorf("election.lease_ttl must be positive")
	}

	if config.Redis.ConnectionErrorLimit < 1 {
		return fmt.Errorf("redis.connection_error_limit must be at least 1")
	}
	if config.Redis.ReconnectLimitBeforeRestart < 1 {
		return fmt.Errorf("redis.reconnect_limit_before_restart must be at least 1")
	}
	if config.Redis.MinReconnectInterval <= 0 {
		return fmt.Errorf("redis.min_reconnect_interval must be positive")
	}

	if config.Store.LocalDir != "" {
		config.Store.LocalDir = filepath.Clean(config.Store.LocalDir)
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	return nil
}

// GetDefaultConfig returns a default configuration
func GetDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	v.Unmarshal(&config)

	return &config
}
