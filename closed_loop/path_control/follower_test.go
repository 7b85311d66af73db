package control

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

type recordingSink struct {
	mu        sync.Mutex
	commands  []ControlCommand
	feedback  []Feedback
	results   []Result
	closest   []PathPoint
	reports   []CycleReport
	onCommand func(ControlCommand)
}

func (s *recordingSink) PublishCommand(cmd ControlCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *recordingSink) PublishFeedback(fb Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
}

func (s *recordingSink) PublishResult(res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
}

func (s *recordingSink) PublishClosestPoint(p PathPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closest = append(s.closest, p)
}

func (s *recordingSink) ObserveCycle(r CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
}

type fakePlanner struct {
	targets []PathPoint
	err     error
}

func (p *fakePlanner) RequestPlan(target PathPoint) error {
	p.targets = append(p.targets, target)
	return p.err
}

func newTestFollower(t *testing.T) (*Follower, *recordingSink, *fakePlanner) {
	t.Helper()
	sink := &recordingSink{}
	planner := &fakePlanner{}
	f, err := NewFollower(DefaultFollowerConfig(), sink, planner, NopLogger{})
	require.NoError(t, err)
	return f, sink, planner
}

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestFollowerIdleEmitsNothing(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})
	f.OnVehicleState(VehicleState{T: 1, X: 5, Y: 1})

	assert.Empty(t, sink.commands)
	assert.Empty(t, sink.feedback)
	assert.Equal(t, VehicleState{T: 1, X: 5, Y: 1}, f.Vehicle())
	assert.False(t, f.OnPreemptRequested())
	assert.Empty(t, sink.results)
}

func TestFollowerStraightPathOffTrack(t *testing.T) {
	f, sink, planner := newTestFollower(t)

	id, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, DesiredDepth: -0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	assert.Equal(t, []PathPoint{{X: 20}}, planner.targets)
	assert.Equal(t, SessionActive, f.SessionState())

	f.OnPathUpdate(Path{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}})
	f.OnVehicleState(VehicleState{T: 0, X: 5, Y: 1, Z: 0, Yaw: 0})

	require.Len(t, sink.commands, 1)
	cmd := sink.commands[0]
	// Lateral PID saturates at -5 with no heading error to suppress it;
	// surge is fully attenuated by the 1 m cross-track error.
	want := ControlCommand{ForceX: 0, ForceY: -5, TorqueZ: 0, ForceZ: -10}
	if diff := cmp.Diff(want, cmd, approx); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, sink.reports, 1)
	r := sink.reports[0]
	assert.Equal(t, 0, r.ClosestIndex)
	assert.Equal(t, 0.0, r.Curvature)
	assert.InDelta(t, 0.0, r.HeadingError, 1e-12)
	assert.InDelta(t, -1.0, r.LateralError, 1e-12)
	assert.Equal(t, id, r.GoalID)

	require.Len(t, sink.feedback, 1)
	assert.InDelta(t, math.Hypot(15, 1), sink.feedback[0].DistanceToGoal, 1e-9)
	assert.Equal(t, []PathPoint{{X: 0, Y: 0}}, sink.closest)
	assert.Empty(t, sink.results)
}

func TestFollowerSmallLateralErrorKeepsSurge(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	_, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})

	f.OnVehicleState(VehicleState{T: 0, X: 11, Y: 0.3})

	require.Len(t, sink.commands, 1)
	cmd := sink.commands[0]
	assert.InDelta(t, 7.0, cmd.ForceX, 1e-9)
	assert.Less(t, cmd.ForceY, 0.0)
	assert.InDelta(t, 0.0, cmd.TorqueZ, 1e-12)
}

func TestFollowerGoalSuccess(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	id, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})

	f.OnVehicleState(VehicleState{T: 0, X: 19.7})

	require.Len(t, sink.results, 1)
	assert.Equal(t, Result{GoalID: id, Outcome: OutcomeSucceeded}, sink.results[0])
	assert.True(t, sink.results[0].TerminalSector())
	require.Len(t, sink.commands, 1)
	assert.True(t, sink.commands[0].IsZero(), "reaching the goal stops the vehicle")
	require.Len(t, sink.feedback, 1)
	assert.InDelta(t, 0.3, sink.feedback[0].DistanceToGoal, 1e-9)
	assert.Equal(t, SessionSucceeded, f.SessionState())

	f.OnVehicleState(VehicleState{T: 0.1, X: 19.9})
	assert.Len(t, sink.results, 1)
	assert.Len(t, sink.feedback, 1)
	assert.Len(t, sink.commands, 1)
}

func TestFollowerPreemptWhileActive(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	id, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})
	f.OnVehicleState(VehicleState{T: 0, X: 1})
	require.Len(t, sink.commands, 1)

	assert.True(t, f.OnPreemptRequested())
	assert.Equal(t, SessionPreempted, f.SessionState())
	require.Len(t, sink.results, 1)
	assert.Equal(t, Result{GoalID: id, Outcome: OutcomeCancelled}, sink.results[0])
	require.Len(t, sink.commands, 2)
	assert.True(t, sink.commands[1].IsZero())

	f.OnVehicleState(VehicleState{T: 0.1, X: 1})
	assert.Len(t, sink.feedback, 1, "no feedback after preemption")
	assert.Len(t, sink.commands, 2)
	assert.False(t, f.OnPreemptRequested())
	assert.Len(t, sink.results, 1)
}

func TestFollowerShortPathHolds(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	_, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)

	f.OnVehicleState(VehicleState{T: 0})
	f.OnPathUpdate(Path{{X: 0}, {X: 20}})
	f.OnVehicleState(VehicleState{T: 0.1})

	assert.Empty(t, sink.commands)
	assert.Empty(t, sink.feedback)
	assert.Equal(t, SessionActive, f.SessionState())
}

func TestFollowerRejectsInvalidGoal(t *testing.T) {
	f, sink, planner := newTestFollower(t)

	_, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0, Target: PathPoint{X: 3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGoal))
	assert.Empty(t, planner.targets)
	assert.Empty(t, sink.results)
	assert.Equal(t, SessionIdle, f.SessionState())
}

func TestFollowerPlannerErrorDoesNotRejectGoal(t *testing.T) {
	sink := &recordingSink{}
	planner := &fakePlanner{err: errors.New("planner offline")}
	f, err := NewFollower(DefaultFollowerConfig(), sink, planner, nil)
	require.NoError(t, err)

	_, err = f.OnGoalAccepted(Goal{AcceptanceRadius: 1, Target: PathPoint{X: 3}})
	require.NoError(t, err)
	assert.Equal(t, SessionActive, f.SessionState())
}

func TestFollowerNewGoalResetsRegulators(t *testing.T) {
	cfg := DefaultFollowerConfig()
	cfg.Lateral.PID = PIDConfig{Kp: 0, Ki: 1, Saturation: 100}
	sink := &recordingSink{}
	f, err := NewFollower(cfg, sink, nil, nil)
	require.NoError(t, err)

	first, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})
	f.OnVehicleState(VehicleState{T: 0, X: 10, Y: 1})
	f.OnVehicleState(VehicleState{T: 1, X: 10, Y: 1})
	_, lateral, _ := f.Diagnostics()
	assert.InDelta(t, -1.0, lateral.Integral, 1e-12)

	_, err = f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	_, lateral, _ = f.Diagnostics()
	assert.Equal(t, 0.0, lateral.Integral)

	require.Len(t, sink.results, 1)
	assert.Equal(t, Result{GoalID: first, Outcome: OutcomeCancelled}, sink.results[0])
}

func TestFollowerPoseQuaternion(t *testing.T) {
	f, sink, _ := newTestFollower(t)
	_, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.5, Target: PathPoint{X: 20}})
	require.NoError(t, err)
	f.OnPathUpdate(Path{{X: 0}, {X: 10}, {X: 20}})

	yaw := 0.05
	f.OnPoseUpdate(Pose{T: 0, X: 10, Orientation: quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}})
	require.Len(t, sink.reports, 1)
	assert.InDelta(t, -yaw, sink.reports[0].HeadingError, 1e-12)
	assert.InDelta(t, yaw, f.Vehicle().Yaw, 1e-12)

	f.OnPoseUpdate(Pose{T: 0.1, X: 10})
	assert.Len(t, sink.reports, 1, "zero quaternion is dropped")
}

func TestFollowerPathIsCopied(t *testing.T) {
	f, _, _ := newTestFollower(t)
	path := Path{{X: 0}, {X: 1}, {X: 2}}
	f.OnPathUpdate(path)
	path[0].X = 99

	assert.Equal(t, 0.0, f.Path()[0].X)
}

func TestFollowerConcurrentInputs(t *testing.T) {
	f, _, _ := newTestFollower(t)
	_, err := f.OnGoalAccepted(Goal{AcceptanceRadius: 0.01, Target: PathPoint{X: 100}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			n := 3 + i%20
			p := make(Path, n)
			for j := range p {
				p[j] = PathPoint{X: float64(j), Y: float64(i % 3)}
			}
			f.OnPathUpdate(p)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			f.OnVehicleState(VehicleState{T: float64(i) * 0.05, X: float64(i % 10), Y: 0.5})
		}
	}()
	wg.Wait()

	assert.Equal(t, SessionActive, f.SessionState())
}
