package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "robot_flir_ptu_5", cfg.Device.Name)
	assert.Equal(t, "192.168.0.180", cfg.Device.Address)
	assert.Equal(t, 2*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 120.0, cfg.Device.MaxPanSpeed)
	assert.Equal(t, 120.0, cfg.Device.MaxTiltSpeed)
	assert.Equal(t, 100*time.Millisecond, cfg.Control.Period)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Empty(t, cfg.Video.RTSPURL)
	assert.Empty(t, cfg.Influx.URL)

	limits := cfg.Limits()
	assert.Equal(t, -167.99, limits.Pan.Min)
	assert.Equal(t, 168.00, limits.Pan.Max)
	assert.Equal(t, -89.99, limits.Tilt.Min)
	assert.Equal(t, 30.00, limits.Tilt.Max)
	assert.Equal(t, 10*time.Second, cfg.WorstCaseCycle())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
device:
  address: 10.0.0.5
  timeout: 500ms
  max_pan_speed: 60
control:
  period: 3s
video:
  rtsp_url: rtsp://10.0.0.6/stream
log:
  level: debug
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "10.0.0.5", cfg.Device.Address)
	assert.Equal(t, 500*time.Millisecond, cfg.Device.Timeout)
	assert.Equal(t, 60.0, cfg.Device.MaxPanSpeed)
	assert.Equal(t, 120.0, cfg.Device.MaxTiltSpeed, "unset keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Control.Period)
	assert.Equal(t, "rtsp://10.0.0.6/stream", cfg.Video.RTSPURL)
	assert.Equal(t, "debug", cfg.Log.Level)

	ctrl := cfg.Controller()
	assert.Equal(t, "10.0.0.5", ctrl.Address)
	assert.Equal(t, 60.0, ctrl.Limits.MaxPanSpeed)
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name string
		edit func(*Config)
	}{
		{"negative speed", func(c *Config) { c.Device.MaxTiltSpeed = -1 }},
		{"negative timeout", func(c *Config) { c.Device.Timeout = -time.Second }},
		{"negative period", func(c *Config) { c.Control.Period = -time.Second }},
		{"negative queue", func(c *Config) { c.Control.QueueSize = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.edit(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseError(t *testing.T) {
	_, err := Parse([]byte("device: [unclosed"))
	assert.Error(t, err)
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(envPath, []byte("device:\n  address: 10.1.1.1\n"), 0o644))
	flagPath := filepath.Join(dir, "flag.yaml")
	require.NoError(t, os.WriteFile(flagPath, []byte("device:\n  address: 10.2.2.2\n"), 0o644))

	t.Setenv(EnvPath, envPath)

	cfg, path, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, envPath, path)
	assert.Equal(t, "10.1.1.1", cfg.Device.Address)

	cfg, path, err = Load(flagPath)
	require.NoError(t, err)
	assert.Equal(t, flagPath, path)
	assert.Equal(t, "10.2.2.2", cfg.Device.Address)

	_, _, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
