package main

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.einride.tech/can"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/num/quat"

	control "auv-pathfollow/closed_loop/path_control"
	"auv-pathfollow/utils"
)

// Frame names in can_map.csv
const (
	framePosePosition    = "POSE_POSITION"
	framePoseOrientation = "POSE_ORIENTATION"
	framePathBegin       = "PATH_BEGIN"
	framePathPoint       = "PATH_POINT"
	framePathEnd         = "PATH_END"
	frameGoalRequest     = "GOAL_REQUEST"
	frameGoalPreempt     = "GOAL_PREEMPT"

	frameWrenchCmd    = "WRENCH_CMD"
	frameGoalFeedback = "GOAL_FEEDBACK"
	frameGoalResult   = "GOAL_RESULT"
	frameClosestPoint = "CLOSEST_POINT"
	framePlanRequest  = "PLAN_REQUEST"
)

var (
	rxFrames = []string{
		framePosePosition, framePoseOrientation,
		framePathBegin, framePathPoint, framePathEnd,
		frameGoalRequest, frameGoalPreempt,
	}
	txFrames = []string{
		frameWrenchCmd, frameGoalFeedback, frameGoalResult,
		frameClosestPoint, framePlanRequest,
	}
)

// errQueueFull is returned when the outbound queue cannot take a frame
var errQueueFull = errors.New("can tx queue full")

// canOutbox implements control.Sink and control.Planner on top of a
// bounded frame queue. It never blocks; a tx loop drains Frames().
type canOutbox struct {
	cmap    *utils.CANMap
	queue   chan can.Frame
	log     *utils.Logger
	metrics *cycleMetrics
	dropLog rate.Sometimes
}

func newCANOutbox(cmap *utils.CANMap, depth int, log *utils.Logger, metrics *cycleMetrics) (*canOutbox, error) {
	if err := cmap.RequireFrames(utils.DirectionTX, txFrames...); err != nil {
		return nil, fmt.Errorf("can map: %w", err)
	}
	if depth < 1 {
		depth = 1
	}
	return &canOutbox{
		cmap:    cmap,
		queue:   make(chan can.Frame, depth),
		log:     log,
		metrics: metrics,
		dropLog: rate.Sometimes{Interval: time.Second},
	}, nil
}

// Frames is the queue the tx loop drains
func (o *canOutbox) Frames() <-chan can.Frame {
	return o.queue
}

func (o *canOutbox) enqueue(name string, values map[string]float64) error {
	frame, err := o.cmap.EncodeEinrideFrame(name, values)
	if err != nil {
		o.log.Error("encode %s: %v", name, err)
		return err
	}
	select {
	case o.queue <- frame:
		return nil
	default:
		if o.metrics != nil {
			o.metrics.framesDropped.WithLabelValues(name).Inc()
		}
		o.dropLog.Do(func() {
			o.log.Warn("tx queue full, dropping %s", name)
		})
		return errQueueFull
	}
}

func (o *canOutbox) PublishCommand(cmd control.ControlCommand) {
	_ = o.enqueue(frameWrenchCmd, map[string]float64{
		"force_x":  cmd.ForceX,
		"force_y":  cmd.ForceY,
		"force_z":  cmd.ForceZ,
		"torque_z": cmd.TorqueZ,
	})
}

func (o *canOutbox) PublishFeedback(fb control.Feedback) {
	_ = o.enqueue(frameGoalFeedback, map[string]float64{
		"distance_to_goal": fb.DistanceToGoal,
	})
}

func (o *canOutbox) PublishResult(res control.Result) {
	_ = o.enqueue(frameGoalResult, map[string]float64{
		"status":          float64(res.Outcome),
		"terminal_sector": boolToFloat(res.TerminalSector()),
	})
}

func (o *canOutbox) PublishClosestPoint(p control.PathPoint) {
	_ = o.enqueue(frameClosestPoint, map[string]float64{
		"point_x": p.X,
		"point_y": p.Y,
	})
}

// RequestPlan asks the planner on the bus for a path to target
func (o *canOutbox) RequestPlan(target control.PathPoint) error {
	return o.enqueue(framePlanRequest, map[string]float64{
		"target_x": target.X,
		"target_y": target.Y,
	})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// pathAssembler stages a path streamed as BEGIN, POINT..., END.
// A path is only released when END matches BEGIN and every index arrived.
type pathAssembler struct {
	active   bool
	points   control.Path
	received []bool
}

func (a *pathAssembler) begin(count int) error {
	if count < 0 || count > math.MaxUint16 {
		return fmt.Errorf("path begin: invalid point count %d", count)
	}
	a.active = true
	a.points = make(control.Path, count)
	a.received = make([]bool, count)
	return nil
}

func (a *pathAssembler) point(index int, p control.PathPoint) error {
	if !a.active {
		return fmt.Errorf("path point %d outside a transfer", index)
	}
	if index < 0 || index >= len(a.points) {
		return fmt.Errorf("path point %d out of range [0,%d)", index, len(a.points))
	}
	a.points[index] = p
	a.received[index] = true
	return nil
}

// end closes the transfer. The staged path is discarded on any error.
func (a *pathAssembler) end(count int) (control.Path, error) {
	if !a.active {
		return nil, fmt.Errorf("path end outside a transfer")
	}
	points, received := a.points, a.received
	a.active, a.points, a.received = false, nil, nil

	if count != len(points) {
		return nil, fmt.Errorf("path end: count %d, begin announced %d", count, len(points))
	}
	for i, ok := range received {
		if !ok {
			return nil, fmt.Errorf("path end: point %d missing", i)
		}
	}
	return points, nil
}

// frameRouter decodes rx frames and feeds them to the follower.
// Route is not safe for concurrent use; the rx loop owns it.
type frameRouter struct {
	cmap     *utils.CANMap
	follower *control.Follower
	log      *utils.Logger
	metrics  *cycleMetrics
	clock    func() float64 // pose timestamp in seconds

	position struct {
		x, y, z float64
		valid   bool
	}
	path     pathAssembler
	lastPose atomic.Int64 // unix nanos, read by the tx loop
}

func newFrameRouter(cmap *utils.CANMap, follower *control.Follower, log *utils.Logger, metrics *cycleMetrics, clock func() float64) (*frameRouter, error) {
	if err := cmap.RequireFrames(utils.DirectionRX, rxFrames...); err != nil {
		return nil, fmt.Errorf("can map: %w", err)
	}
	return &frameRouter{
		cmap:     cmap,
		follower: follower,
		log:      log,
		metrics:  metrics,
		clock:    clock,
	}, nil
}

// Route handles one received frame. Frames that are not in the map or not
// addressed to the controller are ignored.
func (r *frameRouter) Route(frame can.Frame) error {
	if _, err := r.cmap.FrameByID(frame.ID); err != nil {
		r.log.Trace("RX id=0x%X ignored: not in map", frame.ID)
		return nil
	}
	fd, v, err := r.cmap.DecodeEinrideFrame(frame)
	if err != nil {
		return err
	}
	if fd.Direction != utils.DirectionRX {
		// own tx frames looped back by the bus
		return nil
	}
	if r.metrics != nil {
		r.metrics.framesRx.WithLabelValues(fd.Name).Inc()
	}
	r.log.Trace("RX %s id=0x%X data=% X", fd.Name, frame.ID, frame.Data[:frame.Length])

	switch fd.Name {
	case framePosePosition:
		r.position.x, r.position.y, r.position.z = v["pos_x"], v["pos_y"], v["pos_z"]
		r.position.valid = true

	case framePoseOrientation:
		if !r.position.valid {
			r.log.Debug("orientation before any position; dropped")
			return nil
		}
		r.lastPose.Store(time.Now().UnixNano())
		r.follower.OnPoseUpdate(control.Pose{
			T:           r.clock(),
			X:           r.position.x,
			Y:           r.position.y,
			Z:           r.position.z,
			Orientation: quatFromSignals(v),
		})

	case framePathBegin:
		return r.path.begin(int(v["point_count"]))

	case framePathPoint:
		return r.path.point(int(v["point_index"]), control.PathPoint{
			X: v["point_x"], Y: v["point_y"], Z: v["point_z"],
		})

	case framePathEnd:
		path, err := r.path.end(int(v["point_count"]))
		if err != nil {
			return err
		}
		r.follower.OnPathUpdate(path)

	case frameGoalRequest:
		goal := control.Goal{
			AcceptanceRadius: v["acceptance_radius"],
			DesiredDepth:     v["desired_depth"],
			Target: control.PathPoint{
				X: v["target_x"],
				Y: v["target_y"],
				Z: v["desired_depth"],
			},
		}
		if _, err := r.follower.OnGoalAccepted(goal); err != nil {
			return err
		}

	case frameGoalPreempt:
		if v["preempt"] != 0 {
			r.follower.OnPreemptRequested()
		}
	}
	return nil
}

// LastPose is when the last complete pose was routed; zero before the first
func (r *frameRouter) LastPose() time.Time {
	ns := r.lastPose.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func quatFromSignals(v map[string]float64) quat.Number {
	return quat.Number{Real: v["quat_w"], Imag: v["quat_x"], Jmag: v["quat_y"], Kmag: v["quat_z"]}
}
