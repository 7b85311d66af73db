package control

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// VehicleState is the latest known pose. Yaw is in radians and is not
// normalized; wrapping happens where the heading error is formed.
type VehicleState struct {
	T   float64 // pose timestamp (s)
	X   float64
	Y   float64
	Z   float64
	Yaw float64
}

// Planar returns the horizontal position
func (s VehicleState) Planar() r2.Vec {
	return r2.Vec{X: s.X, Y: s.Y}
}

// PathPoint is one vertex of a planner path
type PathPoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z,omitempty" yaml:"z,omitempty"`
}

// Planar returns the horizontal position
func (p PathPoint) Planar() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Path is an ordered list of points, traversed in index order.
// A published Path is never mutated; a new path replaces it wholesale.
type Path []PathPoint

// ControlCommand is the wrench sent to the thruster allocator
type ControlCommand struct {
	ForceX  float64 // surge (N)
	ForceY  float64 // sway (N)
	ForceZ  float64 // heave (N)
	TorqueZ float64 // yaw (N·m)
}

// IsZero reports whether every component is zero
func (c ControlCommand) IsZero() bool {
	return c == ControlCommand{}
}

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// sign returns -1, 0 or +1
func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
