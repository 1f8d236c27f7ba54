package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "RELAY"
	envConfigDefaultPath = "RELAY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load resolves relay settings and returns them with the config file path used.
// Precedence: defaults < config file < RELAY_* env vars. A missing file is
// seeded from defaults so operators get an editable starting point.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()
	path := resolveConfigPath(explicitPath)

	v := newRelayViper(cfg)
	v.SetConfigFile(path)

	if err := readOrSeed(v, path, cfg, logger); err != nil {
		return cfg, path, err
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, path, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, path, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// relayKeys maps every config key to its default. Viper only overlays env
// vars for keys it knows about, so a key missing here cannot be set from
// RELAY_* variables.
func relayKeys(cfg Config) map[string]any {
	return map[string]any{
		// listener
		"addr":                cfg.Addr,
		"read_header_timeout": cfg.ReadHeaderTimeout,
		"shutdown_timeout":    cfg.ShutdownTimeout,
		"log_level":           cfg.LogLevel,
		"log_format":          cfg.LogFormat,
		// sessions
		"send_queue_size":  cfg.SendQueueSize,
		"overflow_policy":  cfg.OverflowPolicy,
		"max_message_size": cfg.MaxMessageSize,
		"allowed_origins":  cfg.AllowedOrigins,
		// cross-instance fan-out
		"redis_addr":    cfg.RedisAddr,
		"redis_channel": cfg.RedisChannel,
	}
}

func newRelayViper(cfg Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	for key, value := range relayKeys(cfg) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// readOrSeed reads the config file, writing defaults to path first when it
// does not exist. Failing to seed is logged and the relay runs on defaults.
func readOrSeed(v *viper.Viper, path string, defaults Config, logger *zerolog.Logger) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}

	if err := writeDefaultConfig(path, defaults); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to seed relay config")
		}
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("seeded relay config with defaults")
	}
	if err := v.ReadInConfig(); err != nil && logger != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read seeded relay config")
	}
	return nil
}

// resolveConfigPath picks the flag path, then $RELAY_CONFIG_DEFAULT_PATH, then the working directory.
func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}
	if dir := os.Getenv(envConfigDefaultPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			return filepath.Join(dir, defaultConfigName)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, defaultConfigName)
	}
	return defaultConfigName
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
