package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
	"github.com/PeterSoManLung/FindDinning/internal/experiment"
)

var experimentCmd = &cobra.Command{
	Use:     "experiment",
	Aliases: []string{"ab"},
	Short:   "Manage A/B tests between model versions",
}

var (
	expName        string
	expModel       string
	expControl     string
	expTreatment   string
	expSplit       int
	expDays        int
	expMetrics     []string
	expCreatedBy   string
	expDescription string
	expHypothesis  string

	expSubject string
	expMetric  string
	expValue   float64
	expContext string
	expStatus  string
)

// withExperiments builds the command, then runs it against a store-only environment.
func withExperiments(cmd *cobra.Command, build func() (dispatch.Command, error)) error {
	c, err := build()
	if err != nil {
		return err
	}
	env, err := initApp(cmd.Context(), "cli", needs{store: true})
	if err != nil {
		return err
	}
	defer env.Close()
	return runCommand(cmd, env.Dispatcher, c)
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create and start an A/B test",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			req := experiment.CreateRequest{
				Name:             expName,
				Model:            expModel,
				ControlVersion:   expControl,
				TreatmentVersion: expTreatment,
				DurationDays:     expDays,
				SuccessMetrics:   expMetrics,
				CreatedBy:        expCreatedBy,
				Description:      expDescription,
				Hypothesis:       expHypothesis,
			}
			if cmd.Flags().Changed("split") {
				split := expSplit
				req.TrafficSplit = &split
			}
			return dispatch.CreateExperiment{CreateRequest: req}, nil
		})
	},
}

var experimentAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Assign a user to a variant of the running test for a model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			return dispatch.AssignSubject{SubjectID: expSubject, Model: expModel}, nil
		})
	},
}

var experimentRecordCmd = &cobra.Command{
	Use:   "record <test-id>",
	Short: "Record a metric observation for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			req := experiment.RecordRequest{
				ExperimentID: args[0],
				SubjectID:    expSubject,
				Metric:       expMetric,
			}
			if cmd.Flags().Changed("value") {
				v := expValue
				req.Value = &v
			}
			if expContext != "" {
				if err := json.Unmarshal([]byte(expContext), &req.Context); err != nil {
					return nil, eris.Wrap(err, "parse --context")
				}
			}
			return dispatch.RecordResult{RecordRequest: req}, nil
		})
	},
}

var experimentAnalyzeCmd = &cobra.Command{
	Use:   "analyze <test-id>",
	Short: "Run the statistical analysis for a test",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			return dispatch.AnalyzeExperiment{ExperimentID: args[0]}, nil
		})
	},
}

var experimentEndCmd = &cobra.Command{
	Use:   "end <test-id>",
	Short: "Complete a test and store its final analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			return dispatch.EndExperiment{ExperimentID: args[0]}, nil
		})
	},
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tests, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withExperiments(cmd, func() (dispatch.Command, error) {
			return dispatch.ListExperiments{Status: expStatus}, nil
		})
	},
}

func init() {
	f := experimentCreateCmd.Flags()
	f.StringVar(&expName, "name", "", "test name (required)")
	f.StringVar(&expModel, "model", "", "model under test (required)")
	f.StringVar(&expControl, "control", "", "control model version (required)")
	f.StringVar(&expTreatment, "treatment", "", "treatment model version (required)")
	f.IntVar(&expSplit, "split", 50, "percentage of users sent to treatment")
	f.IntVar(&expDays, "days", 0, "test duration in days (0 uses the configured default)")
	f.StringSliceVar(&expMetrics, "metrics", nil, "success metrics (comma separated)")
	f.StringVar(&expCreatedBy, "created-by", "", "owner of the test")
	f.StringVar(&expDescription, "description", "", "free-form description")
	f.StringVar(&expHypothesis, "hypothesis", "", "expected outcome")

	experimentAssignCmd.Flags().StringVar(&expSubject, "user", "", "user id (required)")
	experimentAssignCmd.Flags().StringVar(&expModel, "model", "", "model name (required)")

	experimentRecordCmd.Flags().StringVar(&expSubject, "user", "", "user id (required)")
	experimentRecordCmd.Flags().StringVar(&expMetric, "metric", "", "metric name (required)")
	experimentRecordCmd.Flags().Float64Var(&expValue, "value", 0, "observed value (required)")
	experimentRecordCmd.Flags().StringVar(&expContext, "context", "", "extra context as a JSON object")

	experimentListCmd.Flags().StringVar(&expStatus, "status", "", "filter by status: active, completed or all")

	experimentCmd.AddCommand(experimentCreateCmd, experimentAssignCmd, experimentRecordCmd,
		experimentAnalyzeCmd, experimentEndCmd, experimentListCmd)
	rootCmd.AddCommand(experimentCmd)
}
