// Package config loads the driver configuration.
//
// Config file locations (priority order):
//  1. the -config flag
//  2. $PTU_CONFIG
//  3. ./ptu.yaml
//
// When none exists the defaults below apply.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ptu-remote/internal/flir"
)

// EnvPath names the environment variable holding a config path
const EnvPath = "PTU_CONFIG"

// LocalPath is checked when no explicit path is given
const LocalPath = "ptu.yaml"

// Config is the full driver configuration
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Control ControlConfig `yaml:"control"`
	Server  ServerConfig  `yaml:"server"`
	Video   VideoConfig   `yaml:"video"`
	Influx  InfluxConfig  `yaml:"influx"`
	Log     LogConfig     `yaml:"log"`
}

// DeviceConfig identifies the unit and its speed bounds
type DeviceConfig struct {
	Name         string        `yaml:"name"`
	Address      string        `yaml:"address"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPanSpeed  float64       `yaml:"max_pan_speed"`  // deg/s
	MaxTiltSpeed float64       `yaml:"max_tilt_speed"` // deg/s
}

// ControlConfig sets the control cycle
type ControlConfig struct {
	Period    time.Duration `yaml:"period"`
	QueueSize int           `yaml:"queue_size"`
}

// ServerConfig for the websocket/REST surface
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	StaticDir string `yaml:"static_dir"`
}

// VideoConfig for the payload camera relay; empty RTSPURL disables it
type VideoConfig struct {
	RTSPURL    string   `yaml:"rtsp_url"`
	ICEServers []string `yaml:"ice_servers"`
}

// InfluxConfig for telemetry history; empty URL disables it
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// LogConfig sets the log level and output format
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load resolves the config path and loads it, falling back to defaults.
// The returned path is empty when defaults were used.
func Load(flagPath string) (*Config, string, error) {
	path := FindPath(flagPath)
	if path == "" {
		return Default(), "", nil
	}
	cfg, err := LoadFromPath(path)
	return cfg, path, err
}

// FindPath returns the first config location that applies
func FindPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	if _, err := os.Stat(LocalPath); err == nil {
		return LocalPath
	}
	return ""
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and fills in defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Name == "" {
		c.Device.Name = "robot_flir_ptu_5"
	}
	if c.Device.Address == "" {
		c.Device.Address = "192.168.0.180"
	}
	if c.Device.Timeout == 0 {
		c.Device.Timeout = flir.DefaultTimeout
	}
	if c.Device.MaxPanSpeed == 0 {
		c.Device.MaxPanSpeed = flir.DefaultMaxSpeed
	}
	if c.Device.MaxTiltSpeed == 0 {
		c.Device.MaxTiltSpeed = flir.DefaultMaxSpeed
	}
	if c.Control.Period == 0 {
		c.Control.Period = 100 * time.Millisecond
	}
	if c.Control.QueueSize == 0 {
		c.Control.QueueSize = 16
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if len(c.Video.ICEServers) == 0 {
		c.Video.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.Influx.Bucket == "" {
		c.Influx.Bucket = "ptu"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects values the driver cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Device.Address == "" {
		errs = append(errs, errors.New("device.address is required"))
	}
	if c.Device.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("device.timeout must be positive, got %v", c.Device.Timeout))
	}
	if err := c.Limits().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("device: %w", err))
	}
	if c.Control.Period <= 0 {
		errs = append(errs, fmt.Errorf("control.period must be positive, got %v", c.Control.Period))
	}
	if c.Control.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("control.queue_size must be positive, got %d", c.Control.QueueSize))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	return errors.Join(errs...)
}

// Limits returns the fixed travel limits with the configured speed bounds
func (c *Config) Limits() flir.Limits {
	return flir.DefaultLimits(c.Device.MaxPanSpeed, c.Device.MaxTiltSpeed)
}

// WorstCaseCycle is the longest one control cycle can block: four reads
// and one command, each bounded by the device timeout
func (c *Config) WorstCaseCycle() time.Duration {
	return 5 * c.Device.Timeout
}

// Controller returns the FLIR controller configuration
func (c *Config) Controller() flir.Config {
	return flir.Config{
		Name:    c.Device.Name,
		Address: c.Device.Address,
		Timeout: c.Device.Timeout,
		Limits:  c.Limits(),
	}
}
