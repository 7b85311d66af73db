package control

// PIDRegulator is a scalar PID with symmetric output saturation.
// One instance per axis; it is not safe for concurrent use.
type PIDRegulator struct {
	cfg PIDConfig

	// State
	integral    float64
	prevError   float64
	prevTime    float64
	initialized bool
}

// NewPIDRegulator creates a regulator with the given gains
func NewPIDRegulator(cfg PIDConfig) *PIDRegulator {
	return &PIDRegulator{cfg: cfg}
}

// Reset clears the integral and the derivative history
func (pid *PIDRegulator) Reset() {
	pid.integral = 0.0
	pid.prevError = 0.0
	pid.prevTime = 0.0
	pid.initialized = false
}

// Regulate returns the control output for error e at timestamp t (s).
//
// The first call after construction or Reset has no elapsed time, so it
// contributes nothing to the integral and produces no derivative term.
func (pid *PIDRegulator) Regulate(e, t float64) float64 {
	var dt float64
	if pid.initialized {
		dt = t - pid.prevTime
	}
	// Timestamps running backwards are treated like a repeated sample
	if dt < 0 {
		dt = 0
	}

	pid.integral += e * dt

	var derivative float64
	if dt > 0 {
		derivative = (e - pid.prevError) / dt
	}

	out := pid.cfg.Kp*e + pid.cfg.Ki*pid.integral + pid.cfg.Kd*derivative
	out = ClampFloat(out, -pid.cfg.Saturation, pid.cfg.Saturation)

	// Update state for next iteration
	pid.prevError = e
	pid.prevTime = t
	pid.initialized = true

	return out
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDRegulator) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}
