package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/config"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfg *config.Config

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "mlops",
	Short:         "Model operations for FindDining recommendation and NLP models",
	Long:          "Runs A/B experiments, retraining decisions, endpoint monitoring, model version deployment and feedback analysis, as a CLI, an HTTP API, Lambda handlers or a Temporal worker.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return eris.Wrap(err, "mlops: load config")
		}
		if cmd.Flags().Changed("log-level") {
			c.Log.Level = logLevel
		}
		if err := config.InitLogger(c.Log); err != nil {
			return eris.Wrap(err, "mlops: init logger")
		}
		cfg = c

		zap.L().Debug("mlops: configured",
			zap.String("command", cmd.CommandPath()),
			zap.String("store", cfg.Store.Driver),
			zap.String("version", version),
		)
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./config.yaml when present)")
	pf.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}
