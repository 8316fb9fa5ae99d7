package flir

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ptu-remote/internal/ptz"
)

// Controller drives a FLIR PTU over its HTTP PTCmd interface.
// Every setter clamps to Limits before encoding; the device is never trusted
// to reject out-of-range values.
type Controller struct {
	name      string
	limits    Limits
	transport Transport
}

// Config for FLIR controller
type Config struct {
	Name    string        // Device name used in logs and joint names
	Address string        // Unit IP address or hostname (e.g., "192.168.0.180")
	Timeout time.Duration // Per-exchange bound, defaults to 2s
	Limits  Limits
}

// NewController creates a new FLIR controller talking HTTP to cfg.Address
func NewController(cfg Config) (*Controller, error) {
	t, err := NewHTTPTransport(cfg.Address, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return NewControllerWithTransport(cfg.Name, cfg.Limits, t)
}

// NewControllerWithTransport creates a controller on top of an existing transport
func NewControllerWithTransport(name string, limits Limits, t Transport) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		name:      name,
		limits:    limits,
		transport: t,
	}, nil
}

// Limits returns the bounds applied to every setter
func (c *Controller) Limits() Limits {
	return c.limits
}

// Endpoint returns the URL commands are sent to
func (c *Controller) Endpoint() string {
	return c.transport.Endpoint()
}

// Close closes the controller. The unit keeps no session, so this is a no-op.
func (c *Controller) Close() error {
	return nil
}

// SetPanPosition moves pan to deg at the configured max pan speed
func (c *Controller) SetPanPosition(ctx context.Context, deg float64) error {
	return c.send(ctx, Command{
		Kind:     SetPanPosition,
		Pan:      c.limits.Pan.Clamp(deg),
		PanSpeed: c.limits.MaxPanSpeed,
	})
}

// SetTiltPosition moves tilt to deg at the configured max tilt speed
func (c *Controller) SetTiltPosition(ctx context.Context, deg float64) error {
	return c.send(ctx, Command{
		Kind:      SetTiltPosition,
		Tilt:      c.limits.Tilt.Clamp(deg),
		TiltSpeed: c.limits.MaxTiltSpeed,
	})
}

// SetPanSpeed switches to velocity control and drives pan at degPerSec
func (c *Controller) SetPanSpeed(ctx context.Context, degPerSec float64) error {
	return c.send(ctx, Command{
		Kind:     SetPanSpeed,
		PanSpeed: clampSpeed(degPerSec, c.limits.MaxPanSpeed),
	})
}

// SetTiltSpeed switches to velocity control and drives tilt at degPerSec
func (c *Controller) SetTiltSpeed(ctx context.Context, degPerSec float64) error {
	return c.send(ctx, Command{
		Kind:      SetTiltSpeed,
		TiltSpeed: clampSpeed(degPerSec, c.limits.MaxTiltSpeed),
	})
}

// SetPose moves both axes in one exchange, clamped like the single-axis setters
func (c *Controller) SetPose(ctx context.Context, pose ptz.Pose) error {
	return c.send(ctx, Command{
		Kind:      SetPose,
		Pan:       c.limits.Pan.Clamp(pose.Pan),
		Tilt:      c.limits.Tilt.Clamp(pose.Tilt),
		PanSpeed:  clampSpeed(pose.PanSpeed, c.limits.MaxPanSpeed),
		TiltSpeed: clampSpeed(pose.TiltSpeed, c.limits.MaxTiltSpeed),
	})
}

// Read fetches one telemetry value. Any failure, including a malformed
// reply, is returned.
func (c *Controller) Read(ctx context.Context, r ptz.Reading) (float64, error) {
	kind, ok := readKinds[r]
	if !ok {
		return 0, fmt.Errorf("unknown reading %v", r)
	}
	payload, err := Encode(Command{Kind: kind})
	if err != nil {
		return 0, err
	}

	raw, err := c.transport.Exchange(ctx, payload)
	if err != nil {
		c.warn(kind, err)
		return 0, err
	}

	v, err := Decode(kind, raw)
	if err != nil {
		c.warn(kind, err)
		return 0, err
	}
	return v, nil
}

// send encodes and posts a command. A value failure is logged and reported
// as success since nothing reached the device; a connection failure aborts.
func (c *Controller) send(ctx context.Context, cmd Command) error {
	payload, err := Encode(cmd)
	if err == nil {
		_, err = c.transport.Exchange(ctx, payload)
	}
	if err == nil {
		return nil
	}

	c.warn(cmd.Kind, err)
	if errors.Is(err, ErrConnection) {
		return err
	}
	if errors.Is(err, ErrValue) {
		return nil
	}
	return err
}

func (c *Controller) warn(kind Kind, err error) {
	log.Warn().
		Err(err).
		Str("device", c.name).
		Str("endpoint", c.transport.Endpoint()).
		Stringer("command", kind).
		Msg("ptu exchange failed")
}
