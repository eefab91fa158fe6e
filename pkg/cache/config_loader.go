package cache

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig loads cache configuration from a YAML file and the environment.
// All keys live under the "cache" section and can be overridden with
// RESULTCACHE_CACHE_* environment variables. When path is empty the loader
// searches ./configs and the working directory; a missing file is fine as
// long as the environment supplies what the defaults do not.
func LoadConfig(path string) (Config, error) {
	// Best effort .env for local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("RESULTCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Common aliases used in container environments
	_ = v.BindEnv("cache.remote_url", "REDIS_ADDR")
	_ = v.BindEnv("cache.remote_url", "REDIS_ADDRESS")
	_ = v.BindEnv("cache.remote_password", "REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal the whole tree rather than the "cache" subtree: subtree
	// unmarshaling bypasses defaults and environment overrides for keys the
	// file does not mention.
	var root struct {
		Cache Config `mapstructure:"cache"`
	}
	if err := v.Unmarshal(&root); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling cache config: %w", err)
	}
	cfg := root.Cache

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every recognized key. Keys without a meaningful
// default still need registering so environment-only overrides reach
// Unmarshal when no file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.remote_url", "")
	v.SetDefault("cache.remote_password", "")
	v.SetDefault("cache.remote_db", 0)
	v.SetDefault("cache.encryption_key", "")
	v.SetDefault("cache.key_prefix", DefaultKeyPrefix)
	v.SetDefault("cache.default_ttl_seconds", DefaultTTLSeconds)
	v.SetDefault("cache.enable_l1", true)
	v.SetDefault("cache.l1_max_entries", DefaultL1MaxEntries)
	v.SetDefault("cache.l1_ttl_seconds", DefaultL1TTLSeconds)
	v.SetDefault("cache.compression_threshold_bytes", DefaultCompressionThreshold)
	v.SetDefault("cache.compression_level", DefaultCompressionLevel)
	v.SetDefault("cache.connect_timeout", RemoteConnectTimeout)
	v.SetDefault("cache.operation_timeout", RemoteOperationTimeout)
	v.SetDefault("cache.scan_count", DefaultScanCount)
	v.SetDefault("cache.fail_on_connection_error", false)
}
