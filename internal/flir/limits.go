package flir

import "fmt"

// AxisLimits bounds an absolute axis position in degrees
type AxisLimits struct {
	Min float64
	Max float64
}

// Limits holds the mechanical and kinematic bounds of the unit.
// Immutable once the controller is built.
type Limits struct {
	Pan          AxisLimits
	Tilt         AxisLimits
	MaxPanSpeed  float64 // deg/s
	MaxTiltSpeed float64 // deg/s
}

// Mechanical travel of the PTU-5
var (
	PanTravel  = AxisLimits{Min: -167.99, Max: 168.00}
	TiltTravel = AxisLimits{Min: -89.99, Max: 30.00}
)

// DefaultMaxSpeed is the default speed bound for both axes (deg/s)
const DefaultMaxSpeed = 120.0

// DefaultLimits returns the fixed travel limits with the given speed bounds
func DefaultLimits(maxPanSpeed, maxTiltSpeed float64) Limits {
	return Limits{
		Pan:          PanTravel,
		Tilt:         TiltTravel,
		MaxPanSpeed:  maxPanSpeed,
		MaxTiltSpeed: maxTiltSpeed,
	}
}

// Validate checks min < max per axis and positive speed bounds
func (l Limits) Validate() error {
	if !(l.Pan.Min < l.Pan.Max) {
		return fmt.Errorf("pan limits: min %v must be below max %v", l.Pan.Min, l.Pan.Max)
	}
	if !(l.Tilt.Min < l.Tilt.Max) {
		return fmt.Errorf("tilt limits: min %v must be below max %v", l.Tilt.Min, l.Tilt.Max)
	}
	if !(l.MaxPanSpeed > 0) {
		return fmt.Errorf("max pan speed must be positive, got %v", l.MaxPanSpeed)
	}
	if !(l.MaxTiltSpeed > 0) {
		return fmt.Errorf("max tilt speed must be positive, got %v", l.MaxTiltSpeed)
	}
	return nil
}

// Clamp bounds n to [minn, maxn], inclusive
func Clamp(n, minn, maxn float64) float64 {
	return max(min(maxn, n), minn)
}

// Clamp bounds an absolute position to the axis travel
func (a AxisLimits) Clamp(deg float64) float64 {
	return Clamp(deg, a.Min, a.Max)
}

// clampSpeed bounds a signed speed to [-maxSpeed, +maxSpeed]
func clampSpeed(v, maxSpeed float64) float64 {
	return Clamp(v, -maxSpeed, maxSpeed)
}
