package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPIDProportionalOnly(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 2, Saturation: 100})

	for i, tc := range []struct {
		err float64
		t   float64
	}{
		{1.5, 0}, {-3, 0.1}, {0, 7}, {10, 7}, {-49, 100},
	} {
		assert.InDelta(t, 2*tc.err, pid.Regulate(tc.err, tc.t), 1e-12, "case %d", i)
	}
}

func TestPIDSaturation(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 25, Saturation: 15})

	assert.Equal(t, 15.0, pid.Regulate(1, 0))
	assert.Equal(t, -15.0, pid.Regulate(-1, 0.1))
	assert.InDelta(t, 12.5, pid.Regulate(0.5, 0.2), 1e-12)
}

func TestPIDFirstCallHasNoIntegralOrDerivative(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 0, Ki: 1, Kd: 1, Saturation: 1000})

	assert.Equal(t, 0.0, pid.Regulate(5, 42))
	assert.Equal(t, 0.0, pid.GetDiagnostics().Integral)
}

func TestPIDIntegralAndDerivative(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 1, Ki: 2, Kd: 3, Saturation: 1000})

	pid.Regulate(1, 0)
	// dt = 0.5: integral = 2*0.5 = 1, derivative = (2-1)/0.5 = 2
	out := pid.Regulate(2, 0.5)
	assert.InDelta(t, 1*2+2*1+3*2, out, 1e-12)
	assert.InDelta(t, 1.0, pid.GetDiagnostics().Integral, 1e-12)
}

func TestPIDRepeatedTimestamp(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 1, Ki: 1, Kd: 1, Saturation: 1000})

	pid.Regulate(1, 3)
	assert.InDelta(t, 4.0, pid.Regulate(4, 3), 1e-12)
	// Clock stepping backwards behaves like elapsed time of zero
	assert.InDelta(t, 2.0, pid.Regulate(2, 1), 1e-12)
}

func TestPIDReset(t *testing.T) {
	pid := NewPIDRegulator(PIDConfig{Kp: 0, Ki: 1, Kd: 0, Saturation: 1000})

	pid.Regulate(1, 0)
	pid.Regulate(1, 10)
	assert.InDelta(t, 10.0, pid.GetDiagnostics().Integral, 1e-12)

	pid.Reset()
	assert.Equal(t, PIDDiagnostics{}, pid.GetDiagnostics())
	assert.Equal(t, 0.0, pid.Regulate(1, 20), "first call after reset must not integrate")
}
