package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "lambda", "worker", "migrate", "experiment", "retrain", "monitor", "models", "nlp"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "mlops", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Equal(t, version, rootCmd.Version)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		f := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Empty(t, f.DefValue, name)
	}
}

func TestRootCommand_ExplicitConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlops.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7171\nlog:\n  level: info\n"), 0644))
	t.Cleanup(func() {
		configPath, logLevel, cfg = "", "", nil
		for _, name := range []string{"config", "log-level"} {
			rootCmd.PersistentFlags().Lookup(name).Changed = false
		}
	})

	cmd := &cobra.Command{Use: "status"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--log-level", "debug"}))
	require.NoError(t, rootCmd.PersistentPreRunE(cmd, nil))

	require.NotNil(t, cfg)
	assert.Equal(t, 7171, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	t.Cleanup(func() { configPath, cfg = "", nil })
	configPath = filepath.Join(t.TempDir(), "absent.yaml")

	err := rootCmd.PersistentPreRunE(&cobra.Command{Use: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mlops: load config")
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestExperimentCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range experimentCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"create", "assign", "record", "analyze", "end", "list"} {
		assert.True(t, names[name], "experiment should have subcommand %q", name)
	}
}

func TestExperimentCreateCommand_Flags(t *testing.T) {
	for _, name := range []string{"name", "model", "control", "treatment", "split", "days", "metrics"} {
		assert.NotNil(t, experimentCreateCmd.Flags().Lookup(name), "experiment create should have --%s flag", name)
	}
	assert.Equal(t, "50", experimentCreateCmd.Flags().Lookup("split").DefValue)
}

func TestRetrainScheduleCommand_Flags(t *testing.T) {
	flag := retrainScheduleCmd.Flags().Lookup("at")
	require.NotNil(t, flag)
	assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
}

func TestMonitorCommand_Flags(t *testing.T) {
	flag := monitorDriftCmd.Flags().Lookup("days")
	require.NotNil(t, flag)
	assert.Equal(t, "7", flag.DefValue)
	assert.NotNil(t, monitorWatchCmd.Flags().Lookup("interval"))
}

func TestNLPAnalyzeCommand_Flags(t *testing.T) {
	flag := nlpAnalyzeCmd.Flags().Lookup("type")
	require.NotNil(t, flag)
	assert.Equal(t, "sentiment", flag.DefValue)
}

func TestLambdaCommand_ValidArgs(t *testing.T) {
	assert.ElementsMatch(t, []string{"experiments", "retraining", "monitor", "versions", "nlp"}, lambdaCmd.ValidArgs)
	for _, fn := range dispatch.Functions() {
		_, ok := functionNeeds[fn]
		assert.True(t, ok, "function %q has no backend needs", fn)
	}
}

func TestLambdaHandler_ReportsFailuresInEnvelope(t *testing.T) {
	h := newLambdaHandler(dispatch.NewDispatcher(dispatch.Services{}), dispatch.FuncRetraining)

	resp, err := h(context.Background(), json.RawMessage(`{"action":"check_retraining_needed"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.False(t, resp.Body.Success)
}

func TestAppEnv_ServicesLeavesMissingNil(t *testing.T) {
	svc := (&appEnv{}).services()
	assert.Nil(t, svc.Experiments)
	assert.Nil(t, svc.Retraining)
	assert.Nil(t, svc.Monitoring)
	assert.Nil(t, svc.Versions)
	assert.Nil(t, svc.Feedback)
}

func TestAnalysisText(t *testing.T) {
	text, err := analysisText(strings.NewReader("ignored"), []string{"great pasta"})
	require.NoError(t, err)
	assert.Equal(t, "great pasta", text)

	text, err = analysisText(strings.NewReader("  cold food, rude staff\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "cold food, rude staff", text)

	text, err = analysisText(strings.NewReader("from stdin"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)
}

func TestPrintJSON(t *testing.T) {
	var b strings.Builder
	require.NoError(t, printJSON(&b, map[string]int{"count": 2}))
	assert.Equal(t, "{\n  \"count\": 2\n}\n", b.String())
}
