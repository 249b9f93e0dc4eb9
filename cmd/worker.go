package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/schedule"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Temporal worker for scheduled retraining",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "worker", needs{store: true, aws: true, influx: true, temporal: true})
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Temporal == nil {
			return eris.Errorf("temporal is not reachable at %s", cfg.Temporal.HostPort)
		}
		if env.Retraining == nil {
			return eris.New("retraining is not configured (requires aws and influx settings)")
		}

		w := schedule.NewWorker(env.Temporal, cfg.Temporal.TaskQueue,
			&schedule.Workflow{Retry: schedule.RetryPolicy(cfg.Resilience)},
			&schedule.Activities{Trainer: env.Retraining},
		)

		zap.L().Info("starting temporal worker", zap.String("task_queue", cfg.Temporal.TaskQueue))
		return schedule.RunWorker(ctx, w)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
