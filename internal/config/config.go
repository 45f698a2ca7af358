// Package config provides configuration helpers for robocat commands.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables. Command-line flags are applied last by
// each command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Defaults used when neither the file nor the environment sets a value.
const (
	DefaultCameraIndex = 1 // second camera on the two-camera rig
	DefaultListenPort  = "8080"
	DefaultLogLevel    = "info"
	DefaultPoolSize    = 3
	DefaultStaticDir   = "./web"
)

// Config is the daemon configuration.
type Config struct {
	CameraIndex int    `yaml:"camera_index" json:"camera_index"`
	ListenPort  string `yaml:"listen_port" json:"listen_port"`
	LogLevel    string `yaml:"log_level" json:"log_level"`

	// PoolSize is the number of output buffers the host pre-allocates.
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// StaticDir is served at / by the preview host. Empty disables it.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// AutoStart starts the processing loop when the daemon boots.
	AutoStart bool `yaml:"auto_start" json:"auto_start"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CameraIndex: DefaultCameraIndex,
		ListenPort:  DefaultListenPort,
		LogLevel:    DefaultLogLevel,
		PoolSize:    DefaultPoolSize,
		StaticDir:   DefaultStaticDir,
		AutoStart:   true,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ROBOCAT_* environment variables.
func (c *Config) ApplyEnv() {
	c.CameraIndex = CameraIndex(c.CameraIndex)
	c.ListenPort = ListenPort(c.ListenPort)
	c.LogLevel = LogLevel(c.LogLevel)
	if v := os.Getenv("ROBOCAT_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PoolSize = n
		}
	}
	if v, ok := os.LookupEnv("ROBOCAT_STATIC_DIR"); ok {
		c.StaticDir = v
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.CameraIndex < 0 {
		errs = append(errs, fmt.Errorf("camera_index must be >= 0, got %d", c.CameraIndex))
	}
	if c.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("pool_size must be >= 1, got %d", c.PoolSize))
	}
	if c.ListenPort == "" {
		errs = append(errs, errors.New("listen_port is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// CameraIndex returns the camera index from ROBOCAT_CAMERA.
// Falls back to the provided default if unset or not a number.
func CameraIndex(defaultIndex int) int {
	if v := os.Getenv("ROBOCAT_CAMERA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultIndex
}

// ListenPort returns the HTTP port from ROBOCAT_PORT or the default.
func ListenPort(defaultPort string) string {
	if port := os.Getenv("ROBOCAT_PORT"); port != "" {
		return port
	}
	return defaultPort
}

// LogLevel returns the log level from LOG_LEVEL or the default.
func LogLevel(defaultLevel string) string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return defaultLevel
}

// ServerURL returns the base HTTP URL of a preview host.
func ServerURL(host, port string) string {
	return fmt.Sprintf("http://%s:%s", host, port)
}

// WebSocketURL returns the websocket URL for a preview host stream path.
func WebSocketURL(host, port, path string) string {
	return fmt.Sprintf("ws://%s:%s%s", host, port, path)
}
