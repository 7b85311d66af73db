package control

import "math"

// ============================================================================
// AXIS CONTROLLERS
// ============================================================================
// Heading and lateral share one rule: they only push hard once the vehicle
// faces along the path. Heading adds curvature feed-forward while aligned,
// lateral sheds force in proportion to the heading error, and surge decays
// with either error.
// ============================================================================

// HeadingController produces yaw torque from the wrapped heading error
type HeadingController struct {
	cfg HeadingConfig
	pid *PIDRegulator
}

// NewHeadingController creates a heading controller
func NewHeadingController(cfg HeadingConfig) *HeadingController {
	return &HeadingController{cfg: cfg, pid: NewPIDRegulator(cfg.PID)}
}

// Torque returns the yaw torque for headingErr (already wrapped) at t
func (hc *HeadingController) Torque(headingErr, curvature, t float64) float64 {
	torque := hc.pid.Regulate(headingErr, t)
	if math.Abs(headingErr) < hc.cfg.AlignedThresholdRad {
		torque += CurvatureFeedForward(hc.cfg, curvature)
	}
	return torque
}

// Reset clears the regulator state
func (hc *HeadingController) Reset() { hc.pid.Reset() }

// Diagnostics returns the regulator state
func (hc *HeadingController) Diagnostics() PIDDiagnostics { return hc.pid.GetDiagnostics() }

// CurvatureFeedForward is the extra yaw torque for a curved path segment,
// capped from above at cfg.CurvatureCap.
func CurvatureFeedForward(cfg HeadingConfig, curvature float64) float64 {
	return math.Min(curvature/cfg.CurvatureDivisor, cfg.CurvatureCap)
}

// LateralController produces sway force from the cross-track error
type LateralController struct {
	cfg LateralConfig
	pid *PIDRegulator
}

// NewLateralController creates a lateral controller
func NewLateralController(cfg LateralConfig) *LateralController {
	return &LateralController{cfg: cfg, pid: NewPIDRegulator(cfg.PID)}
}

// Force returns the sway force. Its magnitude is reduced by
// HeadingSuppression per rad of heading error, down to zero; the sign of
// the regulator output is kept.
func (lc *LateralController) Force(lateralErr, headingErr, t float64) float64 {
	raw := lc.pid.Regulate(lateralErr, t)
	return sign(raw) * math.Max(math.Abs(raw)-lc.cfg.HeadingSuppression*math.Abs(headingErr), 0)
}

// Reset clears the regulator state
func (lc *LateralController) Reset() { lc.pid.Reset() }

// Diagnostics returns the regulator state
func (lc *LateralController) Diagnostics() PIDDiagnostics { return lc.pid.GetDiagnostics() }

// ForwardForce returns the surge force: the nominal force minus penalties
// on both errors, never negative.
func ForwardForce(cfg ForwardConfig, lateralErr, headingErr float64) float64 {
	f := cfg.NominalForceN - cfg.LateralPenalty*math.Abs(lateralErr) - cfg.HeadingPenalty*math.Abs(headingErr)
	if !(f > 0) {
		return 0
	}
	return f
}

// DepthController holds a commanded depth
type DepthController struct {
	pid *PIDRegulator
}

// NewDepthController creates a depth controller
func NewDepthController(cfg DepthConfig) *DepthController {
	return &DepthController{pid: NewPIDRegulator(cfg.PID)}
}

// Force returns the heave force driving z toward desired
func (dc *DepthController) Force(desired, z, t float64) float64 {
	return dc.pid.Regulate(desired-z, t)
}

// Reset clears the regulator state
func (dc *DepthController) Reset() { dc.pid.Reset() }

// Diagnostics returns the regulator state
func (dc *DepthController) Diagnostics() PIDDiagnostics { return dc.pid.GetDiagnostics() }
