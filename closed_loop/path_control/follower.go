package control

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/num/quat"
)

// Sink receives everything the follower emits. Implementations must not
// block: they are called from inside the control cycle.
type Sink interface {
	PublishCommand(cmd ControlCommand)
	PublishFeedback(fb Feedback)
	PublishResult(res Result)
	PublishClosestPoint(p PathPoint)
}

// CycleObserver is an optional Sink extension that sees the intermediate
// values of every control cycle
type CycleObserver interface {
	ObserveCycle(r CycleReport)
}

// Planner is the external point-to-point planner. RequestPlan is fire and
// forget; the plan comes back later through OnPathUpdate.
type Planner interface {
	RequestPlan(target PathPoint) error
}

// Logger is the subset of utils.Logger the follower uses
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}

// Pose is one sample from the state estimator
type Pose struct {
	T           float64 // s
	X, Y, Z     float64
	Orientation quat.Number
}

// CycleReport holds the intermediate values of one control cycle
type CycleReport struct {
	T              float64
	GoalID         uuid.UUID
	ClosestIndex   int
	Closest        PathPoint
	Curvature      float64
	DesiredHeading float64
	HeadingError   float64
	LateralError   float64
	DepthError     float64
	Command        ControlCommand
	DistanceToGoal float64
}

// Follower runs the control cycle on every pose update and owns the goal
// session. All entry points are safe to call from different goroutines.
//
// A command is only emitted while a goal is active and the path has at
// least MinPathPoints points. Entering Succeeded or Preempted emits one
// zero command so the vehicle stops instead of holding the last thrust.
type Follower struct {
	cfg     FollowerConfig
	sink    Sink
	planner Planner
	log     Logger

	path atomic.Pointer[Path]

	mu           sync.Mutex
	vehicle      VehicleState
	session      *GoalSession
	heading      *HeadingController
	lateral      *LateralController
	depth        *DepthController
	lastDesired  float64
	haveDesired  bool
	lastReport   CycleReport
	shortPathLog rate.Sometimes
}

// NewFollower builds a follower. planner may be nil when paths are
// supplied without a planner in the loop.
func NewFollower(cfg FollowerConfig, sink Sink, planner Planner, log Logger) (*Follower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("follower: nil sink")
	}
	if log == nil {
		log = NopLogger{}
	}
	f := &Follower{
		cfg:          cfg,
		sink:         sink,
		planner:      planner,
		log:          log,
		session:      NewGoalSession(),
		heading:      NewHeadingController(cfg.Heading),
		lateral:      NewLateralController(cfg.Lateral),
		depth:        NewDepthController(cfg.Depth),
		shortPathLog: rate.Sometimes{Interval: 2 * time.Second},
	}
	f.path.Store(&Path{})
	return f, nil
}

// OnPathUpdate replaces the path. The slice is copied, so the caller may
// reuse it.
func (f *Follower) OnPathUpdate(path Path) {
	p := make(Path, len(path))
	copy(p, path)
	f.path.Store(&p)
	f.log.Debug("path updated: %d points", len(p))
}

// Path returns the current path snapshot. It must not be modified.
func (f *Follower) Path() Path {
	return *f.path.Load()
}

// OnGoalAccepted makes goal the active goal, resets all regulators and
// forwards the target to the planner. A goal replaced while still active
// gets a cancellation result.
func (f *Follower) OnGoalAccepted(goal Goal) (uuid.UUID, error) {
	f.mu.Lock()
	id, replaced, err := f.session.Accept(goal)
	if err != nil {
		f.mu.Unlock()
		return uuid.Nil, fmt.Errorf("accept goal: %w", err)
	}
	f.heading.Reset()
	f.lateral.Reset()
	f.depth.Reset()
	f.haveDesired = false
	if replaced != nil {
		f.sink.PublishResult(*replaced)
	}
	f.mu.Unlock()

	if replaced != nil {
		f.log.Info("goal %s replaced while active", replaced.GoalID)
	}
	f.log.Info("goal %s accepted: sphere_of_acceptance=%.3f desired_depth=%.3f target=(%.3f, %.3f)",
		id, goal.AcceptanceRadius, goal.DesiredDepth, goal.Target.X, goal.Target.Y)

	if f.planner != nil {
		if err := f.planner.RequestPlan(goal.Target); err != nil {
			f.log.Warn("goal %s: plan request failed: %v", id, err)
		}
	}
	return id, nil
}

// OnPreemptRequested cancels the active goal and stops the vehicle.
// It reports whether a goal was cancelled.
func (f *Follower) OnPreemptRequested() bool {
	f.mu.Lock()
	res := f.session.Preempt()
	if res != nil {
		f.sink.PublishCommand(ControlCommand{})
		f.sink.PublishResult(*res)
	}
	f.mu.Unlock()

	if res == nil {
		f.log.Debug("preempt ignored: no active goal")
		return false
	}
	f.log.Info("goal %s preempted", res.GoalID)
	return true
}

// OnPoseUpdate stores the pose and runs one control cycle. Samples with an
// unusable orientation are dropped.
func (f *Follower) OnPoseUpdate(p Pose) {
	yaw, ok := YawFromQuaternion(p.Orientation)
	if !ok {
		f.log.Warn("pose at t=%.3f dropped: degenerate orientation", p.T)
		return
	}
	f.OnVehicleState(VehicleState{T: p.T, X: p.X, Y: p.Y, Z: p.Z, Yaw: yaw})
}

// OnVehicleState is OnPoseUpdate for callers that already have the yaw
func (f *Follower) OnVehicleState(state VehicleState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.vehicle = state
	if f.session.State() != SessionActive {
		return
	}

	path := f.Path()
	if len(path) < f.cfg.MinPathPoints {
		f.shortPathLog.Do(func() {
			f.log.Warn("goal active but path has %d points (need %d); holding", len(path), f.cfg.MinPathPoints)
		})
		return
	}

	report := f.step(state, path)

	fb, res, _ := f.session.Tick(state.Planar())
	report.DistanceToGoal = fb.DistanceToGoal
	if res != nil {
		report.Command = ControlCommand{}
	}
	f.lastReport = report

	f.sink.PublishCommand(report.Command)
	if f.cfg.PublishClosestPoint {
		f.sink.PublishClosestPoint(report.Closest)
	}
	if obs, ok := f.sink.(CycleObserver); ok {
		obs.ObserveCycle(report)
	}
	f.sink.PublishFeedback(fb)
	if res != nil {
		f.sink.PublishResult(*res)
		f.log.Info("goal %s within sphere of acceptance (%.3f m)", res.GoalID, fb.DistanceToGoal)
	}
}

// step computes the command for state along path
func (f *Follower) step(state VehicleState, path Path) CycleReport {
	goal, id := f.session.Goal()

	index, closest, _ := FindClosestPoint(state.Planar(), path)
	curvature := Curvature(path, index, f.cfg.CurvatureLookahead)

	desired, ok := DesiredHeading(path, index)
	switch {
	case ok:
		f.lastDesired, f.haveDesired = desired, true
	case f.haveDesired:
		desired = f.lastDesired
	default:
		// Nothing to steer toward yet: hold the current heading
		desired = state.Yaw
	}

	headingErr := WrapHeading(desired - state.Yaw)
	lateralErr := LateralError(state, closest)
	depthErr := goal.DesiredDepth - state.Z

	cmd := ControlCommand{
		TorqueZ: f.heading.Torque(headingErr, curvature, state.T),
		ForceY:  f.lateral.Force(lateralErr, headingErr, state.T),
		ForceX:  ForwardForce(f.cfg.Forward, lateralErr, headingErr),
		ForceZ:  f.depth.Force(goal.DesiredDepth, state.Z, state.T),
	}

	f.log.Debug("cycle t=%.3f idx=%d closest=(%.2f, %.2f) err_yaw=%+.3f err_side=%+.3f k=%+.3f fx=%.2f fy=%+.2f tz=%+.2f fz=%+.2f",
		state.T, index, closest.X, closest.Y, headingErr, lateralErr, curvature,
		cmd.ForceX, cmd.ForceY, cmd.TorqueZ, cmd.ForceZ)

	return CycleReport{
		T:              state.T,
		GoalID:         id,
		ClosestIndex:   index,
		Closest:        closest,
		Curvature:      curvature,
		DesiredHeading: desired,
		HeadingError:   headingErr,
		LateralError:   lateralErr,
		DepthError:     depthErr,
		Command:        cmd,
	}
}

// Stop emits a zero command regardless of session state
func (f *Follower) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink.PublishCommand(ControlCommand{})
}

// SessionState returns the goal session state
func (f *Follower) SessionState() SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.State()
}

// ActiveGoal returns the most recently accepted goal and its id
func (f *Follower) ActiveGoal() (Goal, uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session.Goal()
}

// Vehicle returns the latest vehicle state
func (f *Follower) Vehicle() VehicleState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vehicle
}

// LastReport returns the report of the most recent control cycle
func (f *Follower) LastReport() CycleReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReport
}

// Diagnostics returns the regulator state of the heading, lateral and depth axes
func (f *Follower) Diagnostics() (heading, lateral, depth PIDDiagnostics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heading.Diagnostics(), f.lateral.Diagnostics(), f.depth.Diagnostics()
}
