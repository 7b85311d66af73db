package control

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
)

// FindClosestPoint returns the index of the path vertex nearest to pos in
// the horizontal plane. Ties go to the lowest index. ok is false for an
// empty path.
func FindClosestPoint(pos r2.Vec, path Path) (index int, point PathPoint, ok bool) {
	if len(path) == 0 {
		return 0, PathPoint{}, false
	}
	best := math.Inf(1)
	for i, p := range path {
		d := r2.Norm2(r2.Sub(p.Planar(), pos))
		if d < best {
			best = d
			index = i
		}
	}
	return index, path[index], true
}

// Curvature estimates the signed path curvature around index from the
// points lookahead vertices behind and ahead of it. Positive means the
// path bends left. Returns 0 when the window leaves the path or the
// samples are degenerate.
func Curvature(path Path, index, lookahead int) float64 {
	lo, hi := index-lookahead, index+lookahead
	if lo < 0 || hi >= len(path) || lookahead <= 0 {
		return 0
	}
	a := path[lo].Planar()
	b := path[index].Planar()
	c := path[hi].Planar()

	side1 := r2.Norm(r2.Sub(b, a))
	side2 := r2.Norm(r2.Sub(c, b))
	side3 := r2.Norm(r2.Sub(c, a))
	denom := side1 * side2 * side3
	if denom == 0 {
		return 0
	}

	area := r2.Cross(r2.Sub(b, a), r2.Sub(c, a))
	k := 4 * area / denom
	if !isFinite(k) {
		return 0
	}
	return k
}

// DesiredHeading is the direction of travel along the path at index: the
// bearing of the segment to the next distinct vertex. At the tail of the
// path the bearing of the incoming segment is used instead. ok is false
// when no two distinct vertices exist around index.
func DesiredHeading(path Path, index int) (float64, bool) {
	if index < 0 || index >= len(path) {
		return 0, false
	}
	here := path[index].Planar()
	for j := index + 1; j < len(path); j++ {
		if d := r2.Sub(path[j].Planar(), here); d != (r2.Vec{}) {
			return math.Atan2(d.Y, d.X), true
		}
	}
	for j := index - 1; j >= 0; j-- {
		if d := r2.Sub(here, path[j].Planar()); d != (r2.Vec{}) {
			return math.Atan2(d.Y, d.X), true
		}
	}
	return 0, false
}

// WrapHeading maps an angle into (-π, π]. Non-finite input maps to 0.
func WrapHeading(angle float64) float64 {
	if !isFinite(angle) {
		return 0
	}
	if angle > 3*math.Pi || angle < -3*math.Pi {
		angle = math.Remainder(angle, 2*math.Pi)
	}
	for angle > math.Pi {
		angle -= 2 * math.Pi
	}
	for angle <= -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

// BodyFrameOffset returns the vector from the vehicle to target expressed
// in the vehicle frame (x forward, y left).
func BodyFrameOffset(vehicle VehicleState, target r2.Vec) r2.Vec {
	world := r2.Sub(target, vehicle.Planar())
	return r2.Rotate(world, -vehicle.Yaw, r2.Vec{})
}

// LateralError is the cross-track error: the body-frame y component of
// the vector from the vehicle to the closest path point.
func LateralError(vehicle VehicleState, closest PathPoint) float64 {
	return BodyFrameOffset(vehicle, closest.Planar()).Y
}

// PlanarDistance is the horizontal distance between two points
func PlanarDistance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}

// YawFromQuaternion extracts the heading (rotation about z) from an
// orientation quaternion. The quaternion does not need to be normalized.
// ok is false for a zero or non-finite quaternion.
func YawFromQuaternion(q quat.Number) (float64, bool) {
	n := quat.Abs(q)
	if n == 0 || !isFinite(n) {
		return 0, false
	}
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return math.Atan2(2*(w*z+x*y), w*w+x*x-y*y-z*z), true
}
