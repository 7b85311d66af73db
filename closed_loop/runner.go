package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	control "auv-pathfollow/closed_loop/path_control"
	"auv-pathfollow/utils"
)

type RunnerConfig struct {
	Interface   string
	MapPath     string
	MissionPath string
}

// Runner connects the follower to a CAN bus: an rx loop routes pose, path
// and goal frames in, a tx loop drains the outbox onto the bus.
type Runner struct {
	cfg      RunnerConfig
	log      *utils.Logger
	mission  Mission
	cmap     *utils.CANMap
	writer   utils.CANWriter
	reader   utils.CANReader
	outbox   *canOutbox
	follower *control.Follower
	router   *frameRouter
	metrics  *cycleMetrics
	start    time.Time
}

func NewRunner(ctx context.Context, cfg RunnerConfig, mission Mission, log *utils.Logger) (*Runner, error) {
	if cfg.Interface == "" {
		cfg.Interface = mission.Transport.Interface
	}
	if cfg.MapPath == "" {
		cfg.MapPath = mission.Transport.MapPath
	}

	cmap, err := utils.LoadCANMap(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	writer, err := utils.NewSocketCANWriter(ctx, cfg.Interface)
	if err != nil {
		return nil, err
	}
	reader, err := utils.NewSocketCANReader(ctx, cfg.Interface)
	if err != nil {
		writer.Close()
		return nil, err
	}

	r, err := newRunner(cfg, mission, cmap, writer, reader, log)
	if err != nil {
		writer.Close()
		reader.Close()
		return nil, err
	}
	return r, nil
}

// newRunner wires a runner around already open bus endpoints
func newRunner(cfg RunnerConfig, mission Mission, cmap *utils.CANMap, writer utils.CANWriter, reader utils.CANReader, log *utils.Logger) (*Runner, error) {
	metrics := newCycleMetrics()

	outbox, err := newCANOutbox(cmap, mission.Transport.QueueDepth, log, metrics)
	if err != nil {
		return nil, err
	}

	follower, err := control.NewFollower(mission.Tuning, meteredSink{next: outbox, m: metrics}, outbox, log)
	if err != nil {
		return nil, fmt.Errorf("follower: %w", err)
	}

	r := &Runner{
		cfg:      cfg,
		log:      log,
		mission:  mission,
		cmap:     cmap,
		writer:   writer,
		reader:   reader,
		outbox:   outbox,
		follower: follower,
		metrics:  metrics,
		start:    time.Now(),
	}
	r.router, err = newFrameRouter(cmap, follower, log, metrics, r.elapsed)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) elapsed() float64 {
	return time.Since(r.start).Seconds()
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

// Run blocks until ctx ends, timing.duration_s elapses or a loop fails.
// The vehicle is commanded to stop before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting follower: mission=%s file=%q iface=%s map=%s dt=%.3fs duration=%.1fs",
		r.mission.Meta.Name, r.cfg.MissionPath, r.cfg.Interface, r.cfg.MapPath,
		r.mission.Timing.DtS, r.mission.Timing.DurationS)

	if d := r.mission.Timing.DurationS; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(d*float64(time.Second)))
		defer cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receiveLoop(gctx) })
	g.Go(func() error { return r.transmitLoop(gctx) })
	if addr := r.mission.Metrics.Addr; addr != "" {
		r.log.Info("Serving metrics on %s/metrics", addr)
		g.Go(func() error { return r.metrics.serve(gctx, addr) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	r.log.Info("Follower stopped: state=%s", r.follower.SessionState())
	return err
}

func (r *Runner) receiveLoop(ctx context.Context) error {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("can rx: %w", err)
		}
		if err := r.router.Route(frame); err != nil {
			r.log.Warn("RX id=0x%X: %v", frame.ID, err)
		}
	}
}

// transmitLoop writes queued frames and watches pose freshness. On exit it
// queues a stop command and flushes the queue.
func (r *Runner) transmitLoop(ctx context.Context) error {
	r.log.Debug("TX loop started")
	defer r.log.Debug("TX loop stopped")

	ticker := time.NewTicker(time.Duration(r.mission.Timing.DtS * float64(time.Second)))
	defer ticker.Stop()

	timeout := time.Duration(r.mission.Transport.PoseTimeoutMS) * time.Millisecond
	staleLog := rate.Sometimes{Interval: 2 * time.Second}
	var sent uint64

	for {
		select {
		case <-ctx.Done():
			r.follower.Stop()
			n, err := r.flush()
			r.log.Info("Completed TX. frames_sent=%d", sent+n)
			if err != nil {
				return err
			}
			return ctx.Err()

		case frame := <-r.outbox.Frames():
			if err := r.writer.WriteFrame(ctx, frame); err != nil {
				if ctx.Err() != nil {
					continue
				}
				r.log.Critical("Transmit failed: %v", err)
				return err
			}
			sent++
			r.log.Trace("TX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])

		case now := <-ticker.C:
			if timeout <= 0 || r.follower.SessionState() != control.SessionActive {
				continue
			}
			last := r.router.LastPose()
			switch age := now.Sub(last); {
			case last.IsZero():
				staleLog.Do(func() { r.log.Warn("Goal active but no pose received yet") })
			case age > timeout:
				staleLog.Do(func() {
					r.log.Warn("No pose for %.0f ms while a goal is active", age.Seconds()*1000)
				})
			}
		}
	}
}

// flush writes what is left in the queue with a short deadline of its own
func (r *Runner) flush() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	var n uint64
	for {
		select {
		case frame := <-r.outbox.Frames():
			if err := r.writer.WriteFrame(ctx, frame); err != nil {
				return n, fmt.Errorf("flush: %w", err)
			}
			n++
		default:
			return n, nil
		}
	}
}
