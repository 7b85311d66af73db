package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	control "auv-pathfollow/closed_loop/path_control"
)

// cycleMetrics exports the control cycle. Each instance registers on its
// own registry so simulations and tests do not collide.
type cycleMetrics struct {
	registry *prometheus.Registry

	cycles         prometheus.Counter
	headingError   prometheus.Gauge
	lateralError   prometheus.Gauge
	depthError     prometheus.Gauge
	curvature      prometheus.Gauge
	closestIndex   prometheus.Gauge
	distanceToGoal prometheus.Gauge
	command        *prometheus.GaugeVec
	results        *prometheus.CounterVec
	framesRx       *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
}

func newCycleMetrics() *cycleMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &cycleMetrics{
		registry: reg,
		cycles: f.NewCounter(prometheus.CounterOpts{
			Name: "pathfollow_cycles_total",
			Help: "Control cycles that produced a command",
		}),
		headingError: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_heading_error_rad",
			Help: "Wrapped heading error of the last cycle",
		}),
		lateralError: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_lateral_error_m",
			Help: "Cross-track error of the last cycle",
		}),
		depthError: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_depth_error_m",
			Help: "Desired minus measured depth",
		}),
		curvature: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_path_curvature",
			Help: "Signed curvature estimate at the closest point",
		}),
		closestIndex: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_closest_index",
			Help: "Index of the closest path point",
		}),
		distanceToGoal: f.NewGauge(prometheus.GaugeOpts{
			Name: "pathfollow_distance_to_goal_m",
			Help: "Planar distance to the active goal",
		}),
		command: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pathfollow_command",
			Help: "Last commanded wrench component",
		}, []string{"axis"}),
		results: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfollow_goal_results_total",
			Help: "Terminal goal results by outcome",
		}, []string{"outcome"}),
		framesRx: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfollow_can_rx_frames_total",
			Help: "Received CAN frames by frame name",
		}, []string{"frame"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pathfollow_can_tx_dropped_total",
			Help: "Outbound frames dropped on a full queue",
		}, []string{"frame"}),
	}
}

// serve exposes /metrics on addr until ctx ends
func (m *cycleMetrics) serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// meteredSink records every cycle before handing it to next
type meteredSink struct {
	next control.Sink
	m    *cycleMetrics
}

func (s meteredSink) PublishCommand(cmd control.ControlCommand) {
	s.m.command.WithLabelValues("force_x").Set(cmd.ForceX)
	s.m.command.WithLabelValues("force_y").Set(cmd.ForceY)
	s.m.command.WithLabelValues("force_z").Set(cmd.ForceZ)
	s.m.command.WithLabelValues("torque_z").Set(cmd.TorqueZ)
	s.next.PublishCommand(cmd)
}

func (s meteredSink) PublishFeedback(fb control.Feedback) {
	s.m.distanceToGoal.Set(fb.DistanceToGoal)
	s.next.PublishFeedback(fb)
}

func (s meteredSink) PublishResult(res control.Result) {
	s.m.results.WithLabelValues(res.Outcome.String()).Inc()
	s.next.PublishResult(res)
}

func (s meteredSink) PublishClosestPoint(p control.PathPoint) {
	s.next.PublishClosestPoint(p)
}

func (s meteredSink) ObserveCycle(r control.CycleReport) {
	s.m.cycles.Inc()
	s.m.headingError.Set(r.HeadingError)
	s.m.lateralError.Set(r.LateralError)
	s.m.depthError.Set(r.DepthError)
	s.m.curvature.Set(r.Curvature)
	s.m.closestIndex.Set(float64(r.ClosestIndex))
	if obs, ok := s.next.(control.CycleObserver); ok {
		obs.ObserveCycle(r)
	}
}
