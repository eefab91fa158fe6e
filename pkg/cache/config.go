package cache

import (
	"compress/gzip"
	"fmt"
	"time"

	"github.com/S-Corkum/resultcache/pkg/security"
)

// Defaults applied by DefaultConfig and by New for zero-valued fields
const (
	DefaultTTLSeconds           = 3600
	DefaultL1MaxEntries         = 10000
	DefaultL1TTLSeconds         = 300
	DefaultCompressionThreshold = 1024
	DefaultCompressionLevel     = gzip.BestSpeed
	DefaultKeyPrefix            = "resultcache:"
	DefaultScanCount            = 100

	// RemoteConnectTimeout bounds connection establishment
	RemoteConnectTimeout = 5 * time.Second
	// RemoteOperationTimeout bounds every individual remote call
	RemoteOperationTimeout = 2 * time.Second
)

// Config holds every recognized cache option. It is plain data: construct it
// directly, or load it from file and environment with LoadConfig.
type Config struct {
	// RemoteURL is the remote tier address (host:port). Empty disables the
	// remote tier entirely and the cache runs memory-only.
	RemoteURL      string `mapstructure:"remote_url" json:"remote_url"`
	RemotePassword string `mapstructure:"remote_password" json:"-"`
	RemoteDB       int    `mapstructure:"remote_db" json:"remote_db"`

	// KeyPrefix namespaces every remote key so Clear and scans stay scoped
	// to this cache.
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`

	DefaultTTLSecs int `mapstructure:"default_ttl_seconds" json:"default_ttl_seconds"`

	EnableL1     bool `mapstructure:"enable_l1" json:"enable_l1"`
	L1MaxEntries int  `mapstructure:"l1_max_entries" json:"l1_max_entries"`
	L1TTLSecs    int  `mapstructure:"l1_ttl_seconds" json:"l1_ttl_seconds"`

	CompressionThresholdBytes int `mapstructure:"compression_threshold_bytes" json:"compression_threshold_bytes"`
	CompressionLevel          int `mapstructure:"compression_level" json:"compression_level"`

	// EncryptionKey is an optional base64-encoded 32-byte key. Empty disables
	// at-rest encryption (a warning is logged once at construction).
	EncryptionKey string `mapstructure:"encryption_key" json:"-"`

	// FailOnConnectionError surfaces remote connection failures from New and
	// Connect instead of degrading to memory-only operation. Default false.
	FailOnConnectionError bool `mapstructure:"fail_on_connection_error" json:"fail_on_connection_error"`

	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout"`

	// ScanCount is the COUNT hint for chunked remote scans
	ScanCount int64 `mapstructure:"scan_count" json:"scan_count"`
}

// DefaultConfig returns a Config with production defaults and no remote tier
func DefaultConfig() Config {
	return Config{
		KeyPrefix:                 DefaultKeyPrefix,
		DefaultTTLSecs:            DefaultTTLSeconds,
		EnableL1:                  true,
		L1MaxEntries:              DefaultL1MaxEntries,
		L1TTLSecs:                 DefaultL1TTLSeconds,
		CompressionThresholdBytes: DefaultCompressionThreshold,
		CompressionLevel:          DefaultCompressionLevel,
		ConnectTimeout:            RemoteConnectTimeout,
		OperationTimeout:          RemoteOperationTimeout,
		ScanCount:                 DefaultScanCount,
	}
}

// DefaultTTL returns the configured default entry TTL
func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSecs) * time.Second
}

// L1TTL returns the TTL applied to L1 entries, including promoted ones
func (c Config) L1TTL() time.Duration {
	return time.Duration(c.L1TTLSecs) * time.Second
}

// applyDefaults fills zero-valued fields so hand-built configs stay terse
func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.DefaultTTLSecs == 0 {
		c.DefaultTTLSecs = DefaultTTLSeconds
	}
	if c.L1MaxEntries == 0 {
		c.L1MaxEntries = DefaultL1MaxEntries
	}
	if c.L1TTLSecs == 0 {
		c.L1TTLSecs = DefaultL1TTLSeconds
	}
	if c.CompressionThresholdBytes == 0 {
		c.CompressionThresholdBytes = DefaultCompressionThreshold
	}
	if c.CompressionLevel == 0 {
		c.CompressionLevel = DefaultCompressionLevel
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = RemoteConnectTimeout
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = RemoteOperationTimeout
	}
	if c.ScanCount == 0 {
		c.ScanCount = DefaultScanCount
	}
}

// Validate checks the whole configuration and reports every violation in a
// single ConfigurationError instead of failing on the first one.
func (c Config) Validate() error {
	var violations []string

	if c.RemoteURL == "" && !c.EnableL1 {
		violations = append(violations, "remote_url is empty and enable_l1 is false: at least one tier must be enabled")
	}
	if c.DefaultTTLSecs < 0 {
		violations = append(violations, fmt.Sprintf("default_ttl_seconds must not be negative, got %d", c.DefaultTTLSecs))
	}
	if c.EnableL1 && c.L1MaxEntries <= 0 {
		violations = append(violations, fmt.Sprintf("l1_max_entries must be positive when enable_l1 is true, got %d", c.L1MaxEntries))
	}
	if c.L1TTLSecs < 0 {
		violations = append(violations, fmt.Sprintf("l1_ttl_seconds must not be negative, got %d", c.L1TTLSecs))
	}
	if c.CompressionThresholdBytes < 0 {
		violations = append(violations, fmt.Sprintf("compression_threshold_bytes must not be negative, got %d", c.CompressionThresholdBytes))
	}
	if c.CompressionLevel < gzip.BestSpeed || c.CompressionLevel > gzip.BestCompression {
		violations = append(violations, fmt.Sprintf("compression_level must be between %d and %d, got %d", gzip.BestSpeed, gzip.BestCompression, c.CompressionLevel))
	}
	keyViolation := false
	if c.EncryptionKey != "" {
		if _, err := security.ParseEncryptionKey(c.EncryptionKey); err != nil {
			violations = append(violations, fmt.Sprintf("encryption_key is malformed: %v", err))
			keyViolation = true
		}
	}
	if c.ConnectTimeout < 0 {
		violations = append(violations, "connect_timeout must not be negative")
	}
	if c.OperationTimeout < 0 {
		violations = append(violations, "operation_timeout must not be negative")
	}
	if c.ScanCount < 0 {
		violations = append(violations, fmt.Sprintf("scan_count must not be negative, got %d", c.ScanCount))
	}

	if len(violations) > 0 {
		cfgErr := &ConfigurationError{
			Tag:        "cache_config",
			Violations: violations,
		}
		if keyViolation {
			cfgErr.Remediation = "generate a valid encryption key with `cachectl -keygen` or security.GenerateEncryptionKey"
		}
		return cfgErr
	}
	return nil
}
