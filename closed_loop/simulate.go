package main

import (
	"encoding/csv"
	"fmt"
	"image/color"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	control "auv-pathfollow/closed_loop/path_control"
	"auv-pathfollow/utils"
)

// Used when the mission leaves timing.duration_s at 0
const defaultSimDurationS = 120.0

// vehicleModel is a planar rigid body with linear drag on every axis
type vehicleModel struct {
	cfg        VehicleModelConfig
	x, y, z    float64
	yaw        float64
	u, v, w, r float64 // body-frame surge, sway, heave velocity and yaw rate
}

func newVehicleModel(cfg VehicleModelConfig, start StartPose) *vehicleModel {
	return &vehicleModel{cfg: cfg, x: start.X, y: start.Y, z: start.Z, yaw: start.YawRad}
}

// step integrates one period with semi-implicit Euler
func (m *vehicleModel) step(cmd control.ControlCommand, dt float64) {
	c := m.cfg
	m.u += dt * (cmd.ForceX - c.SurgeDrag*m.u) / c.MassKg
	m.v += dt * (cmd.ForceY - c.SwayDrag*m.v) / c.MassKg
	m.w += dt * (cmd.ForceZ - c.HeaveDrag*m.w) / c.MassKg
	m.r += dt * (cmd.TorqueZ - c.YawDamping*m.r) / c.YawInertia

	m.yaw = control.WrapHeading(m.yaw + m.r*dt)
	world := r2.Rotate(r2.Vec{X: m.u, Y: m.v}, m.yaw, r2.Vec{})
	m.x += world.X * dt
	m.y += world.Y * dt
	m.z += m.w * dt
}

// pose reports the model the way the state estimator would
func (m *vehicleModel) pose(t float64) control.Pose {
	return control.Pose{
		T:           t,
		X:           m.x,
		Y:           m.y,
		Z:           m.z,
		Orientation: quat.Number{Real: math.Cos(m.yaw / 2), Kmag: math.Sin(m.yaw / 2)},
	}
}

// straightLinePlanner answers a plan request with a densified segment from
// the current vehicle position to the target
type straightLinePlanner struct {
	spacing float64
	from    func() r2.Vec
	deliver func(control.Path)
}

func (p *straightLinePlanner) RequestPlan(target control.PathPoint) error {
	if !(p.spacing > 0) {
		return fmt.Errorf("planner: invalid spacing %v", p.spacing)
	}
	start := p.from()
	delta := r2.Sub(target.Planar(), start)
	n := int(math.Ceil(r2.Norm(delta) / p.spacing))
	if n < 2 {
		n = 2
	}
	path := make(control.Path, n+1)
	for i := range path {
		at := r2.Add(start, r2.Scale(float64(i)/float64(n), delta))
		path[i] = control.PathPoint{X: at.X, Y: at.Y, Z: target.Z}
	}
	p.deliver(path)
	return nil
}

// simRecorder is the simulator's sink; the simulation is single threaded
type simRecorder struct {
	cmd      control.ControlCommand
	feedback control.Feedback
	result   *control.Result
	report   control.CycleReport
	cycled   bool
}

func (s *simRecorder) PublishCommand(cmd control.ControlCommand) { s.cmd = cmd }
func (s *simRecorder) PublishFeedback(fb control.Feedback)       { s.feedback = fb }
func (s *simRecorder) PublishClosestPoint(control.PathPoint)     {}
func (s *simRecorder) ObserveCycle(r control.CycleReport)        { s.report, s.cycled = r, true }

func (s *simRecorder) PublishResult(res control.Result) {
	r := res
	s.result = &r
}

type trackSample struct {
	Pose   control.Pose
	Yaw    float64
	Report control.CycleReport
	Cycled bool
}

// SimulationResult summarizes one offline run
type SimulationResult struct {
	Outcome       control.Outcome // 0 when the goal never terminated
	ElapsedS      float64
	Steps         int
	FinalDistance float64
	Path          control.Path
	Track         []trackSample
}

// Simulate flies the mission's goal with the real follower against the
// vehicle model and writes the optional CSV and PNG outputs
func Simulate(m Mission, log *utils.Logger) (SimulationResult, error) {
	sim := m.Simulation
	dt := m.Timing.DtS
	duration := m.Timing.DurationS
	if duration <= 0 {
		duration = defaultSimDurationS
	}

	model := newVehicleModel(sim.Vehicle, sim.Start)
	rec := &simRecorder{}

	var follower *control.Follower
	var planner control.Planner
	if len(sim.Path) == 0 {
		planner = &straightLinePlanner{
			spacing: sim.PlannerSpacingM,
			from:    func() r2.Vec { return follower.Vehicle().Planar() },
			deliver: func(p control.Path) { follower.OnPathUpdate(p) },
		}
	}

	follower, err := control.NewFollower(m.Tuning, rec, planner, log)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("follower: %w", err)
	}

	follower.OnPoseUpdate(model.pose(0))
	if len(sim.Path) > 0 {
		follower.OnPathUpdate(sim.Path)
	}
	if _, err := follower.OnGoalAccepted(sim.Goal.Goal()); err != nil {
		return SimulationResult{}, err
	}

	steps := int(math.Ceil(duration / dt))
	res := SimulationResult{Path: follower.Path(), Track: make([]trackSample, 0, steps)}
	log.Info("Simulating mission=%s dt=%.3fs duration=%.1fs path_points=%d",
		m.Meta.Name, dt, duration, len(res.Path))

	for i := 0; i <= steps; i++ {
		t := float64(i) * dt
		pose := model.pose(t)
		rec.cycled = false
		follower.OnPoseUpdate(pose)

		res.Steps++
		res.ElapsedS = t
		res.Track = append(res.Track, trackSample{Pose: pose, Yaw: model.yaw, Report: rec.report, Cycled: rec.cycled})

		if rec.result != nil {
			res.Outcome = rec.result.Outcome
			break
		}
		model.step(rec.cmd, dt)
	}
	res.FinalDistance = control.PlanarDistance(r2.Vec{X: model.x, Y: model.y}, sim.Goal.Goal().Target.Planar())

	if res.Outcome == control.OutcomeSucceeded {
		log.Info("Goal reached after %.1fs (%d steps), distance=%.3f m", res.ElapsedS, res.Steps, res.FinalDistance)
	} else {
		log.Warn("Goal not reached within %.1fs, distance=%.3f m", duration, res.FinalDistance)
	}

	if sim.CSVPath != "" {
		if err := writeTrackCSV(sim.CSVPath, res.Track); err != nil {
			return res, fmt.Errorf("write csv: %w", err)
		}
		log.Info("Track written to %s", sim.CSVPath)
	}
	if sim.PNGPath != "" {
		if err := plotTrack(sim.PNGPath, m.Meta.Name, res.Path, res.Track); err != nil {
			return res, fmt.Errorf("plot: %w", err)
		}
		log.Info("Plot written to %s", sim.PNGPath)
	}
	return res, nil
}

func writeTrackCSV(path string, track []trackSample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"t", "x", "y", "z", "yaw", "closest_index", "curvature",
		"heading_error", "lateral_error", "depth_error",
		"force_x", "force_y", "force_z", "torque_z", "distance_to_goal",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, s := range track {
		rep := s.Report
		if !s.Cycled {
			rep = control.CycleReport{ClosestIndex: -1}
		}
		row := []string{
			ff(s.Pose.T), ff(s.Pose.X), ff(s.Pose.Y), ff(s.Pose.Z), ff(s.Yaw),
			strconv.Itoa(rep.ClosestIndex), ff(rep.Curvature),
			ff(rep.HeadingError), ff(rep.LateralError), ff(rep.DepthError),
			ff(rep.Command.ForceX), ff(rep.Command.ForceY), ff(rep.Command.ForceZ), ff(rep.Command.TorqueZ),
			ff(rep.DistanceToGoal),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func plotTrack(file, title string, path control.Path, track []trackSample) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - path vs track", title)
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	pathPts := make(plotter.XYs, 0, len(path))
	for _, pt := range path {
		pathPts = append(pathPts, plotter.XY{X: pt.X, Y: pt.Y})
	}
	trackPts := make(plotter.XYs, 0, len(track))
	for _, s := range track {
		trackPts = append(trackPts, plotter.XY{X: s.Pose.X, Y: s.Pose.Y})
	}

	if len(pathPts) > 0 {
		pathLine, err := plotter.NewLine(pathPts)
		if err != nil {
			return err
		}
		pathLine.Width = vg.Points(1)
		pathLine.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
		pathLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(pathLine)
		p.Legend.Add("path", pathLine)
	}

	trackLine, err := plotter.NewLine(trackPts)
	if err != nil {
		return err
	}
	trackLine.Width = vg.Points(1.5)
	trackLine.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	p.Add(trackLine)
	p.Legend.Add("vehicle", trackLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(8*vg.Inch, 6*vg.Inch, file)
}
