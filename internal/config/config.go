package config

import "errors"

// Config is the top-level configuration struct for bugledger.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Hashing     HashingConfig     `mapstructure:"hashing"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// StorageConfig holds run repository settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// HashingConfig holds identity hasher settings.
type HashingConfig struct {
	// Goroutines bounds the hashing worker pool. Zero means one worker
	// per CPU.
	Goroutines int `mapstructure:"goroutines"`

	// SourceRoot is the directory report file paths are resolved
	// against when reading source for context hashing.
	SourceRoot string `mapstructure:"source_root"`
}

// DiagnosticsConfig holds the optional diagnostics HTTP endpoint settings.
type DiagnosticsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Defaults applied when neither the config file nor the environment set
// a value.
const (
	DefaultStoragePath       = ".bugledger.db"
	DefaultHashingGoroutines = 0
	DefaultSourceRoot        = "."
	DefaultDiagnosticsAddr   = "localhost:8585"
)

// Sentinel errors for configuration validation.
var (
	// ErrEmptyStoragePath indicates the storage path is empty.
	ErrEmptyStoragePath = errors.New("storage.path must not be empty")
	// ErrInvalidGoroutines indicates the hashing goroutines value is negative.
	ErrInvalidGoroutines = errors.New("hashing.goroutines must be non-negative")
	// ErrEmptyDiagnosticsAddr indicates diagnostics are enabled without an address.
	ErrEmptyDiagnosticsAddr = errors.New("diagnostics.addr must not be empty when diagnostics are enabled")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return ErrEmptyStoragePath
	}

	if c.Hashing.Goroutines < 0 {
		return ErrInvalidGoroutines
	}

	if c.Diagnostics.Enabled && c.Diagnostics.Addr == "" {
		return ErrEmptyDiagnosticsAddr
	}

	return nil
}
