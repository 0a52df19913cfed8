package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/waytous/waytous/internal/envelope"
	"github.com/waytous/waytous/internal/envelope/keyprovider"
)

// Backends for the current module's record
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendTOML     = "toml"
	BackendSealed   = "sealed"
	BackendRedis    = "redis"
)

var validBackends = []string{BackendSQLite, BackendPostgres, BackendTOML, BackendSealed, BackendRedis}

// Config represents the waytous configuration
type Config struct {
	InstallRoot  string           `mapstructure:"install_root"`
	MetadataFile string           `mapstructure:"metadata_file"`
	Current      CurrentConfig    `mapstructure:"current"`
	Encryption   EncryptionConfig `mapstructure:"encryption"`
	Artifact     ArtifactConfig   `mapstructure:"artifact"`
}

// CurrentConfig selects where the current module's record lives
type CurrentConfig struct {
	Backend   string `mapstructure:"backend"`
	Database  string `mapstructure:"database"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// EncryptionConfig controls sealing of metadata files
type EncryptionConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cipher  string `mapstructure:"cipher"`
	KeyEnv  string `mapstructure:"key_env"`
	KeyFile string `mapstructure:"key_file"`
}

// ArtifactConfig configures OTA artifact packaging
type ArtifactConfig struct {
	Tool string `mapstructure:"tool"`
}

// Load reads waytous.yaml from path, or from the standard search paths
// when path is empty. A missing config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("install_root", "/opt/waytous/modules")
	v.SetDefault("metadata_file", "version.toml")
	v.SetDefault("current.backend", BackendSQLite)
	v.SetDefault("current.database", "meta.db")
	v.SetDefault("current.dsn", "")
	v.SetDefault("current.redis_addr", "localhost:6379")
	v.SetDefault("current.redis_key", "waytous:module:current")
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.cipher", string(envelope.ChaCha20Poly1305))
	v.SetDefault("encryption.key_env", keyprovider.DefaultEnvVariable)
	v.SetDefault("encryption.key_file", "")
	v.SetDefault("artifact.tool", "mender-artifact")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("waytous")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/waytous")
		v.AddConfigPath("/etc/waytous")
	}

	// WAYTOUS_INSTALL_ROOT, WAYTOUS_CURRENT_BACKEND, ...
	v.SetEnvPrefix("waytous")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// KeyProvider returns the configured key source. A key file takes
// precedence over the environment variable.
func (c *Config) KeyProvider() keyprovider.Provider {
	if c.Encryption.KeyFile != "" {
		return keyprovider.File{Path: c.Encryption.KeyFile}
	}
	return keyprovider.Env{Variable: c.Encryption.KeyEnv}
}

// Sealed reports whether metadata files are kept in an envelope. The
// sealed backend implies it; otherwise encryption.enabled decides, for the
// current module and for every installed module alike.
func (c *Config) Sealed() bool {
	return c.Current.Backend == BackendSealed || c.Encryption.Enabled
}

// Cipher returns the parsed envelope cipher
func (c *Config) Cipher() envelope.Cipher {
	cipher, err := envelope.ParseCipher(c.Encryption.Cipher)
	if err != nil {
		return envelope.ChaCha20Poly1305
	}
	return cipher
}

// InvalidValueError reports a setting outside its allowed values
type InvalidValueError struct {
	Key   string
	Value string
	Valid []string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s must be one of %s, got: %s", e.Key, strings.Join(e.Valid, ", "), e.Value)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.InstallRoot) == "" {
		return fmt.Errorf("install_root must not be empty")
	}
	if cfg.MetadataFile == "" || strings.ContainsAny(cfg.MetadataFile, `/\`) {
		return fmt.Errorf("metadata_file must be a plain file name, got: %q", cfg.MetadataFile)
	}

	valid := false
	for _, b := range validBackends {
		if cfg.Current.Backend == b {
			valid = true
			break
		}
	}
	if !valid {
		return &InvalidValueError{Key: "current.backend", Value: cfg.Current.Backend, Valid: validBackends}
	}
	if cfg.Current.Backend == BackendPostgres && cfg.Current.DSN == "" {
		return fmt.Errorf("current.dsn is required for the postgres backend")
	}

	if _, err := envelope.ParseCipher(cfg.Encryption.Cipher); err != nil {
		return &InvalidValueError{
			Key:   "encryption.cipher",
			Value: cfg.Encryption.Cipher,
			Valid: []string{string(envelope.ChaCha20Poly1305), string(envelope.AES256GCM)},
		}
	}
	return nil
}
