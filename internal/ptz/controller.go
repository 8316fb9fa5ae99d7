package ptz

import (
	"context"
	"math"
	"time"
)

// Reading selects one telemetry value the device can report
type Reading int

const (
	PanPosition Reading = iota
	TiltPosition
	PanSpeed
	TiltSpeed
)

func (r Reading) String() string {
	switch r {
	case PanPosition:
		return "pan_position"
	case TiltPosition:
		return "tilt_position"
	case PanSpeed:
		return "pan_speed"
	case TiltSpeed:
		return "tilt_speed"
	}
	return "unknown"
}

// Pose is a combined pan+tilt target. Positions in degrees, speeds in deg/s.
type Pose struct {
	Pan       float64
	Tilt      float64
	PanSpeed  float64
	TiltSpeed float64
}

// Sample is one complete telemetry snapshot of the unit
type Sample struct {
	PanPosition  float64   `json:"pan_position"`  // deg
	TiltPosition float64   `json:"tilt_position"` // deg
	PanSpeed     float64   `json:"pan_speed"`     // deg/s
	TiltSpeed    float64   `json:"tilt_speed"`    // deg/s
	Timestamp    time.Time `json:"timestamp"`     // zero until the first successful poll
}

// Controller defines the interface for pan-tilt unit control.
// Every call performs at most one exchange with the device and never retries.
type Controller interface {
	// SetPanPosition moves the pan axis to an absolute angle in degrees
	SetPanPosition(ctx context.Context, deg float64) error

	// SetTiltPosition moves the tilt axis to an absolute angle in degrees
	SetTiltPosition(ctx context.Context, deg float64) error

	// SetPanSpeed drives the pan axis in velocity mode (deg/s, signed)
	SetPanSpeed(ctx context.Context, degPerSec float64) error

	// SetTiltSpeed drives the tilt axis in velocity mode (deg/s, signed)
	SetTiltSpeed(ctx context.Context, degPerSec float64) error

	// SetPose moves both axes in a single exchange
	SetPose(ctx context.Context, pose Pose) error

	// Read fetches a single telemetry value
	Read(ctx context.Context, r Reading) (float64, error)

	// Close releases the controller
	Close() error
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
