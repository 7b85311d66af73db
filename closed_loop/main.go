package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	control "auv-pathfollow/closed_loop/path_control"
	"auv-pathfollow/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	missionPath string
	logLevel    string
	logFile     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "closed-loop",
		Short:         "Path-following controller for an underwater vehicle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.missionPath, "mission", "", "Mission JSON or YAML file (built-in defaults when empty)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log", "info", "trace|debug|info|warn|error|critical")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "closed_loop.log", "Log file, mirrored to stdout; empty logs to stdout only")

	root.AddCommand(newRunCmd(opts), newSimulateCmd(opts))
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var iface, mapPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow paths received over SocketCAN",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, mission, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner, err := NewRunner(ctx, RunnerConfig{
				Interface:   iface,
				MapPath:     mapPath,
				MissionPath: opts.missionPath,
			}, mission, log)
			if err != nil {
				log.Critical("Startup failed: %v", err)
				return err
			}
			defer runner.Close()

			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Critical("Run failed: %v", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&iface, "iface", "", "SocketCAN interface name (overrides the mission)")
	cmd.Flags().StringVar(&mapPath, "map", "", "Path to can_map.csv (overrides the mission)")
	return cmd
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	var csvPath, pngPath string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fly the mission goal against a vehicle model",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, mission, err := opts.setup()
			if err != nil {
				return err
			}
			defer log.Close()

			if csvPath != "" {
				mission.Simulation.CSVPath = csvPath
			}
			if pngPath != "" {
				mission.Simulation.PNGPath = pngPath
			}

			res, err := Simulate(mission, log)
			if err != nil {
				log.Critical("Simulation failed: %v", err)
				return err
			}
			if res.Outcome != control.OutcomeSucceeded {
				return fmt.Errorf("goal not reached: distance %.3f m after %.1f s", res.FinalDistance, res.ElapsedS)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write the vehicle track as CSV")
	cmd.Flags().StringVar(&pngPath, "png", "", "Plot path and track to a PNG")
	return cmd
}

// setup opens the logger and loads the mission
func (o *rootOptions) setup() (*utils.Logger, Mission, error) {
	level := utils.ParseLogLevel(o.logLevel)

	var log *utils.Logger
	if o.logFile == "" {
		log = utils.NewLogger(os.Stdout, level)
	} else {
		var err error
		log, err = utils.NewFileLogger(o.logFile, level, true)
		if err != nil {
			_, _ = os.Stderr.WriteString("ERROR: cannot open " + o.logFile + ": " + err.Error() + "\n")
			return nil, Mission{}, err
		}
	}

	mission := DefaultMission()
	if o.missionPath != "" {
		m, err := LoadMission(o.missionPath)
		if err != nil {
			log.Critical("Load mission: %v", err)
			log.Close()
			return nil, Mission{}, err
		}
		mission = m
	}
	return log, mission, nil
}
