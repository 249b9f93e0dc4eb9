package main

import (
	"github.com/spf13/cobra"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Evaluate, start and schedule model retraining",
}

var (
	retrainModel  string
	retrainReason string
	retrainAt     string
)

var retrainNeeds = needs{store: true, aws: true, influx: true, temporal: true}

func withRetraining(cmd *cobra.Command, c dispatch.Command) error {
	env, err := initApp(cmd.Context(), "retrain", retrainNeeds)
	if err != nil {
		return err
	}
	defer env.Close()
	return runCommand(cmd, env.Dispatcher, c)
}

var retrainCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate every configured model and act on the decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRetraining(cmd, dispatch.CheckRetraining{})
	},
}

var retrainTriggerCmd = &cobra.Command{
	Use:   "trigger <model>",
	Short: "Start a training job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRetraining(cmd, dispatch.TriggerRetraining{Model: args[0], Reason: retrainReason})
	},
}

var retrainStatusCmd = &cobra.Command{
	Use:   "status <training-job-name>",
	Short: "Show the state of a training job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRetraining(cmd, dispatch.TrainingStatus{JobName: args[0]})
	},
}

var retrainScheduleCmd = &cobra.Command{
	Use:   "schedule <model>",
	Short: "Schedule a retraining run for later",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRetraining(cmd, dispatch.ScheduleRetraining{Model: args[0], ScheduleTime: retrainAt, Reason: retrainReason})
	},
}

func init() {
	retrainTriggerCmd.Flags().StringVar(&retrainReason, "reason", "", "reason recorded on the job")
	retrainScheduleCmd.Flags().StringVar(&retrainReason, "reason", "", "reason recorded on the job")
	retrainScheduleCmd.Flags().StringVar(&retrainAt, "at", "", "run time, ISO 8601 (required)")
	_ = retrainScheduleCmd.MarkFlagRequired("at")

	retrainCmd.AddCommand(retrainCheckCmd, retrainTriggerCmd, retrainStatusCmd, retrainScheduleCmd)
	rootCmd.AddCommand(retrainCmd)
}
