package temp_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/hydronic-controller/internal/temp"
)

func TestFromCelsius(t *testing.T) {
	tests := []struct {
		name     string
		celsius  float64
		expected temp.Temp
	}{
		{"zero", 0, 0},
		{"positive", 21.5, 21500},
		{"negative", -5.25, -5250},
		{"rounding up", 0.0006, 1},
		{"rounding down", -0.0006, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, temp.FromCelsius(tt.celsius))
		})
	}
}

func TestCelsiusRoundTrip(t *testing.T) {
	for _, c := range []float64{-30, -0.5, 0, 18.5, 55, 95.5} {
		assert.InDelta(t, c, temp.FromCelsius(c).Celsius(), 0.001)
	}
}

func TestClamp(t *testing.T) {
	lo := temp.FromCelsius(20)
	hi := temp.FromCelsius(80)

	assert.Equal(t, lo, temp.Clamp(temp.FromCelsius(10), lo, hi))
	assert.Equal(t, hi, temp.Clamp(temp.FromCelsius(90), lo, hi))
	mid := temp.FromCelsius(50)
	assert.Equal(t, mid, temp.Clamp(mid, lo, hi))
}

func TestMaxMin(t *testing.T) {
	a := temp.FromCelsius(40)
	b := temp.FromCelsius(60)
	assert.Equal(t, b, temp.Max(a, b))
	assert.Equal(t, a, temp.Min(a, b))
}

func TestIsSensorFault(t *testing.T) {
	for _, err := range []error{
		temp.ErrSensorInvalid,
		temp.ErrSensorDisconnected,
		temp.ErrSensorShorted,
		temp.ErrSensorStale,
		temp.ErrTempTooHigh,
		temp.ErrTempTooLow,
	} {
		assert.True(t, temp.IsSensorFault(err))
		assert.True(t, temp.IsSensorFault(fmt.Errorf("wrapped: %w", err)))
	}
	assert.False(t, temp.IsSensorFault(errors.New("other")))
	assert.False(t, temp.IsSensorFault(nil))
}

func TestDeltaK(t *testing.T) {
	assert.Equal(t, temp.Temp(3000), temp.DeltaK(3))
	assert.Equal(t, temp.Temp(-2000), temp.DeltaK(-2))
}
