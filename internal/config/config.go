package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds relay configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	SendQueueSize  int      `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	OverflowPolicy string   `mapstructure:"overflow_policy" yaml:"overflow_policy"`
	MaxMessageSize int64    `mapstructure:"max_message_size" yaml:"max_message_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		SendQueueSize:     32,
		OverflowPolicy:    "drop",
		MaxMessageSize:    64 * 1024,
		AllowedOrigins:    []string{},
		RedisChannel:      "roomrelay",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.SendQueueSize != 0 {
		c.SendQueueSize = other.SendQueueSize
	}
	if other.OverflowPolicy != "" {
		c.OverflowPolicy = other.OverflowPolicy
	}
	if other.MaxMessageSize != 0 {
		c.MaxMessageSize = other.MaxMessageSize
	}
	if len(other.AllowedOrigins) > 0 {
		c.AllowedOrigins = other.AllowedOrigins
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
	if other.RedisChannel != "" {
		c.RedisChannel = other.RedisChannel
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max_message_size must be positive, got %d", c.MaxMessageSize)
	}
	switch c.OverflowPolicy {
	case "drop", "disconnect":
	default:
		return fmt.Errorf("overflow_policy must be drop or disconnect, got %q", c.OverflowPolicy)
	}
	return nil
}
