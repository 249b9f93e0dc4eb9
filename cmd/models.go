package main

import (
	"github.com/spf13/cobra"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List, deploy, roll back and delete model versions",
}

func withVersions(cmd *cobra.Command, c dispatch.Command) error {
	env, err := initApp(cmd.Context(), "cli", needs{store: true, aws: true})
	if err != nil {
		return err
	}
	defer env.Close()
	return runCommand(cmd, env.Dispatcher, c)
}

var modelsListCmd = &cobra.Command{
	Use:   "list <model>",
	Short: "List registered versions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVersions(cmd, dispatch.ListVersions{Model: args[0]})
	},
}

var modelsDeployCmd = &cobra.Command{
	Use:   "deploy <model> <version>",
	Short: "Deploy a registered version to the model endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVersions(cmd, dispatch.DeployModel{Model: args[0], Version: args[1]})
	},
}

var modelsRollbackCmd = &cobra.Command{
	Use:   "rollback <model> <version>",
	Short: "Redeploy an earlier version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVersions(cmd, dispatch.RollbackModel{Model: args[0], TargetVersion: args[1]})
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <model> <version>",
	Short: "Delete a version that is not deployed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVersions(cmd, dispatch.DeleteVersion{Model: args[0], Version: args[1]})
	},
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsDeployCmd, modelsRollbackCmd, modelsDeleteCmd)
	rootCmd.AddCommand(modelsCmd)
}
