package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
	"github.com/PeterSoManLung/FindDinning/internal/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Collect endpoint metrics, check drift and report",
}

var (
	monitorDays     int
	monitorInterval time.Duration
)

var monitorNeeds = needs{aws: true, influx: true}

func withMonitor(cmd *cobra.Command, c dispatch.Command) error {
	env, err := initApp(cmd.Context(), "monitor", monitorNeeds)
	if err != nil {
		return err
	}
	defer env.Close()
	return runCommand(cmd, env.Dispatcher, c)
}

var monitorRunCmd = &cobra.Command{
	Use:   "run [model]",
	Short: "Run one monitoring pass for all models or a single model",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return withMonitor(cmd, dispatch.MonitorModel{Model: args[0]})
		}
		return withMonitor(cmd, dispatch.MonitorAll{})
	},
}

var monitorDriftCmd = &cobra.Command{
	Use:   "drift <model>",
	Short: "Compare recent performance against the earlier baseline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMonitor(cmd, dispatch.CheckDrift{Model: args[0], DaysBack: monitorDays})
	},
}

var monitorReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored performance for every model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMonitor(cmd, dispatch.PerformanceReport{DaysBack: monitorDays})
	},
}

var monitorWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run monitoring passes on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "monitor", monitorNeeds)
		if err != nil {
			return err
		}
		defer env.Close()
		if env.Monitor == nil {
			return eris.New("monitoring is not configured (requires aws settings)")
		}

		interval := monitorInterval
		if interval <= 0 {
			interval = time.Duration(cfg.Monitoring.CheckIntervalSecs) * time.Second
		}
		zap.L().Info("starting monitor loop", zap.Duration("interval", interval))
		monitoring.NewChecker(env.Monitor, interval).Run(ctx)
		return nil
	},
}

func init() {
	monitorDriftCmd.Flags().IntVar(&monitorDays, "days", 7, "days of history to compare")
	monitorReportCmd.Flags().IntVar(&monitorDays, "days", 7, "days of history to summarize")
	monitorWatchCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "time between passes (0 uses monitoring.check_interval_secs)")

	monitorCmd.AddCommand(monitorRunCmd, monitorDriftCmd, monitorReportCmd, monitorWatchCmd)
	rootCmd.AddCommand(monitorCmd)
}
