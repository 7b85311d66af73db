package control

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// PIDConfig holds gains and the symmetric output bound for one control axis
type PIDConfig struct {
	Kp         float64 `json:"kp" yaml:"kp"`
	Ki         float64 `json:"ki" yaml:"ki"`
	Kd         float64 `json:"kd" yaml:"kd"`
	Saturation float64 `json:"saturation" yaml:"saturation" validate:"gt=0"` // output clamped to ±Saturation
}

// HeadingConfig tunes the yaw axis
type HeadingConfig struct {
	PID PIDConfig `json:"pid" yaml:"pid"`

	// Curvature feed-forward is only added while |heading error| is below
	// AlignedThresholdRad (rad).
	AlignedThresholdRad float64 `json:"aligned_threshold_rad" yaml:"aligned_threshold_rad" validate:"gte=0"`
	CurvatureDivisor    float64 `json:"curvature_divisor" yaml:"curvature_divisor" validate:"gt=0"`
	CurvatureCap        float64 `json:"curvature_cap" yaml:"curvature_cap"` // N·m
}

// LateralConfig tunes the cross-track axis
type LateralConfig struct {
	PID PIDConfig `json:"pid" yaml:"pid"`

	// N of lateral force removed per rad of heading error
	HeadingSuppression float64 `json:"heading_suppression" yaml:"heading_suppression" validate:"gte=0"`
}

// ForwardConfig shapes surge force
type ForwardConfig struct {
	NominalForceN  float64 `json:"nominal_force_n" yaml:"nominal_force_n" validate:"gte=0"`
	LateralPenalty float64 `json:"lateral_penalty" yaml:"lateral_penalty" validate:"gte=0"` // N per m of cross-track error
	HeadingPenalty float64 `json:"heading_penalty" yaml:"heading_penalty" validate:"gte=0"` // N per rad of heading error
}

// DepthConfig tunes the heave axis
type DepthConfig struct {
	PID PIDConfig `json:"pid" yaml:"pid"`
}

// FollowerConfig bundles every tunable of the control cycle
type FollowerConfig struct {
	Heading HeadingConfig `json:"heading" yaml:"heading"`
	Lateral LateralConfig `json:"lateral" yaml:"lateral"`
	Forward ForwardConfig `json:"forward" yaml:"forward"`
	Depth   DepthConfig   `json:"depth" yaml:"depth"`

	// Path points on each side of the closest point sampled for curvature
	CurvatureLookahead int `json:"curvature_lookahead" yaml:"curvature_lookahead" validate:"gte=1"`
	// Paths shorter than this are not followed
	MinPathPoints int `json:"min_path_points" yaml:"min_path_points" validate:"gte=2"`
	// Publish the closest path point every cycle
	PublishClosestPoint bool `json:"publish_closest_point" yaml:"publish_closest_point"`
}

// DefaultFollowerConfig returns the gains the vehicle was tuned with
func DefaultFollowerConfig() FollowerConfig {
	return FollowerConfig{
		Heading: HeadingConfig{
			PID:                 PIDConfig{Kp: 25, Ki: 0, Kd: 10, Saturation: 15},
			AlignedThresholdRad: 0.1,
			CurvatureDivisor:    10,
			CurvatureCap:        4,
		},
		Lateral: LateralConfig{
			PID:                PIDConfig{Kp: 20, Ki: 0, Kd: 10, Saturation: 5},
			HeadingSuppression: 5,
		},
		Forward: ForwardConfig{
			NominalForceN:  10,
			LateralPenalty: 10,
			HeadingPenalty: 50,
		},
		Depth: DepthConfig{
			PID: PIDConfig{Kp: 20, Ki: 1, Kd: 5, Saturation: 20},
		},
		CurvatureLookahead:  5,
		MinPathPoints:       3,
		PublishClosestPoint: true,
	}
}

var validate = validator.New()

// Validate checks every tag-declared bound
func (c FollowerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("follower config: %w", err)
	}
	return nil
}
