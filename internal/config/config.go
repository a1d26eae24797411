package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the registry server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Registry RegistryConfig `mapstructure:"registry"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig contains network-level settings for the TCP listener.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadBufferSize  int    `mapstructure:"read_buffer_size"`
	WriteBufferSize int    `mapstructure:"write_buffer_size"`
	// Backlog and ReuseAddr are the connection-option knobs from the wire
	// protocol's connection table (SO_BACKLOG = 1024, SO_REUSEADDR = true
	// by default); Go's net package applies SO_REUSEADDR by default and
	// exposes backlog only indirectly (via the OS's listen(2) backlog,
	// which net.Listen does not let callers set directly), so both fields
	// are carried here for documentation/parity only; the transport does not
	// read them.
	Backlog   int  `mapstructure:"backlog"`
	ReuseAddr bool `mapstructure:"reuse_addr"`
}

// RegistryConfig controls idle detection, ack bookkeeping, and the shared
// timing wheel.
type RegistryConfig struct {
	// ReaderIdleSeconds is the server-side reader-idle timeout; writer- and
	// all-idle are disabled server-side by default.
	ReaderIdleSeconds int `mapstructure:"reader_idle_seconds"`
	SendQueueSize     int `mapstructure:"send_queue_size"`

	WheelTickMillis int `mapstructure:"wheel_tick_millis"`
	WheelSize       int `mapstructure:"wheel_size"`
}

// MetricsConfig controls the Prometheus/diagnostics endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ListenAddr  string `mapstructure:"listen_addr"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LoggingConfig controls the zap logger's level and development mode; the
// encoding is always JSON.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ReaderIdle returns the configured reader-idle timeout as a Duration.
func (r RegistryConfig) ReaderIdle() time.Duration {
	return time.Duration(r.ReaderIdleSeconds) * time.Second
}

// WheelTick returns the configured timing-wheel tick duration.
func (r RegistryConfig) WheelTick() time.Duration {
	return time.Duration(r.WheelTickMillis) * time.Millisecond
}

// Load reads configuration from environment variables and an optional
// config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_buffer_size", 16<<10)
	v.SetDefault("server.write_buffer_size", 16<<10)
	v.SetDefault("server.backlog", 1024)
	v.SetDefault("server.reuse_addr", true)

	v.SetDefault("registry.reader_idle_seconds", 60)
	v.SetDefault("registry.send_queue_size", 256)
	v.SetDefault("registry.wheel_tick_millis", 100)
	v.SetDefault("registry.wheel_size", 512)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")
	v.SetDefault("metrics.service_name", "registryd")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("registryd")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("REGISTRYD")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Registry.SendQueueSize <= 0 {
		cfg.Registry.SendQueueSize = 256
	}
	if cfg.Registry.WheelTickMillis <= 0 {
		cfg.Registry.WheelTickMillis = 100
	}
	if cfg.Registry.WheelSize <= 0 {
		cfg.Registry.WheelSize = 512
	}

	return cfg, nil
}
