package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	control "auv-pathfollow/closed_loop/path_control"
)

var validate = validator.New()

// Mission is everything one run of the follower needs besides the CAN map
type Mission struct {
	Meta       MissionMeta            `json:"meta" yaml:"meta"`
	Timing     MissionTiming          `json:"timing" yaml:"timing"`
	Tuning     control.FollowerConfig `json:"tuning" yaml:"tuning"`
	Transport  TransportConfig        `json:"transport" yaml:"transport"`
	Metrics    MetricsConfig          `json:"metrics" yaml:"metrics"`
	Simulation SimulationConfig       `json:"simulation" yaml:"simulation"`
}

// MissionMeta contains mission metadata
type MissionMeta struct {
	Name        string `json:"name" yaml:"name"`
	Version     int    `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
}

// MissionTiming defines timing parameters
type MissionTiming struct {
	DtS       float64 `json:"dt_s" yaml:"dt_s" validate:"gt=0"`
	DurationS float64 `json:"duration_s" yaml:"duration_s" validate:"gte=0"` // 0 runs until interrupted
}

type TransportConfig struct {
	Interface  string `json:"iface" yaml:"iface"`
	MapPath    string `json:"map_path" yaml:"map_path"`
	QueueDepth int    `json:"queue_depth" yaml:"queue_depth" validate:"gte=1"`

	// Warn when no pose arrived for this long while a goal is active
	PoseTimeoutMS int `json:"pose_timeout_ms" yaml:"pose_timeout_ms" validate:"gte=0"`
}

type MetricsConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables the /metrics endpoint
}

// SimulationConfig drives the offline simulator
type SimulationConfig struct {
	Vehicle VehicleModelConfig `json:"vehicle" yaml:"vehicle"`
	Start   StartPose          `json:"start" yaml:"start"`
	Goal    GoalConfig         `json:"goal" yaml:"goal"`

	// Fixed path; when empty the built-in straight-line planner is used
	Path            []control.PathPoint `json:"path,omitempty" yaml:"path,omitempty"`
	PlannerSpacingM float64             `json:"planner_spacing_m" yaml:"planner_spacing_m" validate:"gt=0"`

	CSVPath string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`
	PNGPath string `json:"png_path,omitempty" yaml:"png_path,omitempty"`
}

// VehicleModelConfig parameterizes the planar rigid-body model
type VehicleModelConfig struct {
	MassKg     float64 `json:"mass_kg" yaml:"mass_kg" validate:"gt=0"`
	SurgeDrag  float64 `json:"surge_drag" yaml:"surge_drag" validate:"gte=0"` // N per m/s
	SwayDrag   float64 `json:"sway_drag" yaml:"sway_drag" validate:"gte=0"`
	HeaveDrag  float64 `json:"heave_drag" yaml:"heave_drag" validate:"gte=0"`
	YawInertia float64 `json:"yaw_inertia" yaml:"yaw_inertia" validate:"gt=0"`  // kg·m²
	YawDamping float64 `json:"yaw_damping" yaml:"yaw_damping" validate:"gte=0"` // N·m per rad/s
}

type StartPose struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Z      float64 `json:"z" yaml:"z"`
	YawRad float64 `json:"yaw_rad" yaml:"yaw_rad"`
}

type GoalConfig struct {
	AcceptanceRadius float64 `json:"sphere_of_acceptance" yaml:"sphere_of_acceptance"`
	DesiredDepth     float64 `json:"desired_depth" yaml:"desired_depth"`
	TargetX          float64 `json:"target_x" yaml:"target_x"`
	TargetY          float64 `json:"target_y" yaml:"target_y"`
}

// Goal converts the configured goal into a follower goal
func (g GoalConfig) Goal() control.Goal {
	return control.Goal{
		AcceptanceRadius: g.AcceptanceRadius,
		DesiredDepth:     g.DesiredDepth,
		Target:           control.PathPoint{X: g.TargetX, Y: g.TargetY, Z: g.DesiredDepth},
	}
}

// DefaultMission returns a mission that runs without any file
func DefaultMission() Mission {
	return Mission{
		Meta: MissionMeta{Name: "default", Version: 1},
		Timing: MissionTiming{
			DtS:       0.1,
			DurationS: 0,
		},
		Tuning: control.DefaultFollowerConfig(),
		Transport: TransportConfig{
			Interface:     "vcan0",
			MapPath:       "config/can/can_map.csv",
			QueueDepth:    64,
			PoseTimeoutMS: 500,
		},
		Simulation: SimulationConfig{
			Vehicle: VehicleModelConfig{
				MassKg:     30,
				SurgeDrag:  20,
				SwayDrag:   30,
				HeaveDrag:  40,
				YawInertia: 5,
				YawDamping: 10,
			},
			Start: StartPose{X: 0, Y: 1},
			Goal: GoalConfig{
				AcceptanceRadius: 0.5,
				DesiredDepth:     -0.5,
				TargetX:          20,
				TargetY:          0,
			},
			PlannerSpacingM: 0.5,
		},
	}
}

// LoadMission reads a mission file over DefaultMission, so a file only
// needs the fields it changes. .yaml and .yml files are YAML, anything
// else is JSON.
func LoadMission(path string) (Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mission{}, fmt.Errorf("read file: %w", err)
	}

	m := DefaultMission()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Mission{}, fmt.Errorf("unmarshal: %w", err)
	}

	if err := m.Validate(); err != nil {
		return Mission{}, err
	}
	return m, nil
}

// Validate checks the whole mission including the follower tuning
func (m Mission) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid mission: %w", err)
	}
	if err := m.Simulation.Goal.Goal().Validate(); err != nil {
		return fmt.Errorf("simulation goal: %w", err)
	}
	return nil
}
