package main

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	control "auv-pathfollow/closed_loop/path_control"
)

func TestSimulateReachesGoalWithPlanner(t *testing.T) {
	m := DefaultMission()
	dir := t.TempDir()
	m.Simulation.CSVPath = filepath.Join(dir, "track.csv")
	m.Simulation.PNGPath = filepath.Join(dir, "track.png")

	res, err := Simulate(m, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, control.OutcomeSucceeded, res.Outcome)
	assert.Less(t, res.FinalDistance, m.Simulation.Goal.AcceptanceRadius)
	assert.Less(t, res.ElapsedS, defaultSimDurationS)
	require.GreaterOrEqual(t, len(res.Path), 3, "planner delivered a path")

	last := res.Track[len(res.Track)-1]
	assert.InDelta(t, -0.5, last.Pose.Z, 0.1, "depth held")
	for _, s := range res.Track {
		if s.Cycled {
			assert.GreaterOrEqual(t, s.Report.Command.ForceX, 0.0)
		}
	}

	f, err := os.Open(m.Simulation.CSVPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, len(res.Track)+1)
	assert.Equal(t, "t", rows[0][0])

	info, err := os.Stat(m.Simulation.PNGPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSimulateFixedPath(t *testing.T) {
	m := DefaultMission()
	m.Simulation.Start = StartPose{X: 0, Y: 0, YawRad: 0.3}
	m.Simulation.Goal = GoalConfig{AcceptanceRadius: 0.5, DesiredDepth: -1, TargetX: 10, TargetY: 0}
	for x := 0.0; x <= 10; x += 0.5 {
		m.Simulation.Path = append(m.Simulation.Path, control.PathPoint{X: x})
	}

	res, err := Simulate(m, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, control.OutcomeSucceeded, res.Outcome)
	assert.Len(t, res.Path, len(m.Simulation.Path))
	assert.InDelta(t, 0.0, res.Track[len(res.Track)-1].Yaw, 0.1)
}

func TestSimulateTimesOut(t *testing.T) {
	m := DefaultMission()
	m.Timing.DurationS = 1
	m.Simulation.Goal.TargetX = 200

	res, err := Simulate(m, quietLogger())
	require.NoError(t, err)
	assert.Zero(t, res.Outcome)
	assert.Greater(t, res.FinalDistance, 100.0)
}

func TestVehicleModelIntegrates(t *testing.T) {
	cfg := VehicleModelConfig{MassKg: 1, YawInertia: 1}
	v := newVehicleModel(cfg, StartPose{YawRad: math.Pi / 2})

	v.step(control.ControlCommand{ForceX: 1}, 1)
	assert.InDelta(t, 0.0, v.x, 1e-12)
	assert.InDelta(t, 1.0, v.y, 1e-12, "surge is along the heading")

	p := v.pose(1)
	yaw, ok := control.YawFromQuaternion(p.Orientation)
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, yaw, 1e-12)
}

func TestStraightLinePlanner(t *testing.T) {
	var got control.Path
	p := &straightLinePlanner{
		spacing: 1,
		from:    func() r2.Vec { return r2.Vec{X: 0, Y: 0} },
		deliver: func(path control.Path) { got = path },
	}
	require.NoError(t, p.RequestPlan(control.PathPoint{X: 3, Y: 4, Z: -2}))
	require.Len(t, got, 6)
	assert.Equal(t, control.PathPoint{X: 0, Y: 0, Z: -2}, got[0])
	assert.InDelta(t, 3.0, got[5].X, 1e-12)
	assert.InDelta(t, 4.0, got[5].Y, 1e-12)

	require.NoError(t, p.RequestPlan(control.PathPoint{}))
	assert.Len(t, got, 3, "degenerate requests still yield a followable path")
}
