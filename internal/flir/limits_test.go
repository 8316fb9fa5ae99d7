package flir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamp(t *testing.T) {
	for _, test := range []struct {
		name string
		n    float64
		want float64
	}{
		{"inside", 12.5, 12.5},
		{"at min", PanTravel.Min, PanTravel.Min},
		{"at max", PanTravel.Max, PanTravel.Max},
		{"above max", 200, 168.00},
		{"below min", -1000, -167.99},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, PanTravel.Clamp(test.n))
		})
	}
}

func TestClampSpeedSymmetric(t *testing.T) {
	for s := -500.0; s <= 500; s += 12.5 {
		assert.Equal(t, clampSpeed(s, 120), -clampSpeed(-s, 120), "speed %v", s)
	}
	assert.Equal(t, -120.0, clampSpeed(-500, 120))
	assert.Equal(t, 120.0, clampSpeed(500, 120))
	assert.Equal(t, 45.0, clampSpeed(45, 120))
}

func TestLimitsValidate(t *testing.T) {
	require.NoError(t, DefaultLimits(DefaultMaxSpeed, DefaultMaxSpeed).Validate())

	bad := DefaultLimits(DefaultMaxSpeed, DefaultMaxSpeed)
	bad.Tilt = AxisLimits{Min: 30, Max: 30}
	assert.Error(t, bad.Validate())

	assert.Error(t, DefaultLimits(0, DefaultMaxSpeed).Validate())
	assert.Error(t, DefaultLimits(DefaultMaxSpeed, -1).Validate())
}
