package control

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
)

// ErrInvalidGoal is returned for goals that can never be tracked sensibly
var ErrInvalidGoal = errors.New("invalid goal")

// Goal is one navigation request
type Goal struct {
	// Goal succeeds once the vehicle is strictly closer than this (m)
	AcceptanceRadius float64 `json:"acceptance_radius" yaml:"acceptance_radius" validate:"gt=0"`
	// Depth held while the goal is active (m, z axis)
	DesiredDepth float64 `json:"desired_depth" yaml:"desired_depth"`
	// Waypoint handed to the planner; only X and Y are used
	Target PathPoint `json:"target" yaml:"target"`
}

// Validate rejects non-positive or non-finite radii and non-finite targets
func (g Goal) Validate() error {
	if err := validate.Struct(g); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidGoal, err)
	}
	if !isFinite(g.AcceptanceRadius) || !isFinite(g.DesiredDepth) || !isFinite(g.Target.X) || !isFinite(g.Target.Y) {
		return fmt.Errorf("%w: non-finite field", ErrInvalidGoal)
	}
	return nil
}

// SessionState is the lifecycle of the current goal
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionActive
	SessionSucceeded
	SessionPreempted
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "IDLE"
	case SessionActive:
		return "ACTIVE"
	case SessionSucceeded:
		return "SUCCEEDED"
	case SessionPreempted:
		return "PREEMPTED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Outcome is how a goal terminated
type Outcome int

const (
	OutcomeSucceeded Outcome = iota + 1
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "SUCCEEDED"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Feedback reports progress of the active goal
type Feedback struct {
	GoalID         uuid.UUID
	DistanceToGoal float64
}

// Result is the terminal report of a goal; exactly one per goal
type Result struct {
	GoalID  uuid.UUID
	Outcome Outcome
}

// TerminalSector reports whether the goal was reached
func (r Result) TerminalSector() bool { return r.Outcome == OutcomeSucceeded }

// GoalSession tracks a single navigation goal: Idle until the first
// accept, then Active until it either reaches the acceptance radius
// (Succeeded) or is cancelled (Preempted). Accept restarts it from any
// state. Not safe for concurrent use.
type GoalSession struct {
	state        SessionState
	goal         Goal
	goalID       uuid.UUID
	lastDistance float64

	newID func() uuid.UUID
}

// NewGoalSession returns an idle session
func NewGoalSession() *GoalSession {
	return &GoalSession{state: SessionIdle, newID: uuid.New}
}

// Accept makes goal the active goal. When a different goal was still
// active, its cancellation result is returned as replaced.
func (s *GoalSession) Accept(goal Goal) (id uuid.UUID, replaced *Result, err error) {
	if err := goal.Validate(); err != nil {
		return uuid.Nil, nil, err
	}
	if s.state == SessionActive {
		replaced = &Result{GoalID: s.goalID, Outcome: OutcomeCancelled}
	}
	s.goal = goal
	s.goalID = s.newID()
	s.lastDistance = 0
	s.state = SessionActive
	return s.goalID, replaced, nil
}

// Tick evaluates progress at pos. While Active it always yields feedback
// (ok is true) and, when pos is inside the acceptance radius, the success
// result. In any other state it does nothing.
func (s *GoalSession) Tick(pos r2.Vec) (fb Feedback, res *Result, ok bool) {
	if s.state != SessionActive {
		return Feedback{}, nil, false
	}
	dist := PlanarDistance(pos, s.goal.Target.Planar())
	s.lastDistance = dist
	fb = Feedback{GoalID: s.goalID, DistanceToGoal: dist}
	if dist < s.goal.AcceptanceRadius {
		s.state = SessionSucceeded
		res = &Result{GoalID: s.goalID, Outcome: OutcomeSucceeded}
	}
	return fb, res, true
}

// Preempt cancels the active goal. It returns nil when no goal is active.
func (s *GoalSession) Preempt() *Result {
	if s.state != SessionActive {
		return nil
	}
	s.state = SessionPreempted
	return &Result{GoalID: s.goalID, Outcome: OutcomeCancelled}
}

// State returns the current lifecycle state
func (s *GoalSession) State() SessionState { return s.state }

// Goal returns the most recently accepted goal and its id
func (s *GoalSession) Goal() (Goal, uuid.UUID) { return s.goal, s.goalID }

// LastDistance returns the distance computed by the latest Tick
func (s *GoalSession) LastDistance() float64 { return s.lastDistance }
