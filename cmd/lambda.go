package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

// functionNeeds lists the backends each Lambda function uses.
var functionNeeds = map[dispatch.Function]needs{
	dispatch.FuncExperiments: {store: true},
	dispatch.FuncRetraining:  {store: true, aws: true, influx: true, temporal: true},
	dispatch.FuncMonitor:     {aws: true, influx: true},
	dispatch.FuncVersions:    {store: true, aws: true},
	dispatch.FuncNLP:         {llm: true},
}

var lambdaCmd = &cobra.Command{
	Use:       "lambda <function>",
	Short:     "Run as an AWS Lambda handler",
	Long:      "Starts the Lambda runtime loop for one function: " + functionList() + ".",
	Args:      cobra.ExactArgs(1),
	ValidArgs: functionNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		fn, err := dispatch.ParseFunction(args[0])
		if err != nil {
			return err
		}

		mode := "lambda"
		if fn == dispatch.FuncNLP {
			mode = "nlp"
		}
		env, err := initApp(cmd.Context(), mode, functionNeeds[fn])
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("starting lambda handler", zap.String("function", string(fn)))
		lambda.StartWithOptions(newLambdaHandler(env.Dispatcher, fn), lambda.WithContext(cmd.Context()))
		return nil
	},
}

// newLambdaHandler adapts the dispatcher to the Lambda runtime. Failures are
// reported in the response envelope, never as invocation errors, so that
// callers always receive a status code.
func newLambdaHandler(d *dispatch.Dispatcher, fn dispatch.Function) func(context.Context, json.RawMessage) (dispatch.Response, error) {
	return func(ctx context.Context, payload json.RawMessage) (dispatch.Response, error) {
		return d.HandleEvent(ctx, fn, payload), nil
	}
}

func functionNames() []string {
	fns := dispatch.Functions()
	names := make([]string, len(fns))
	for i, fn := range fns {
		names[i] = string(fn)
	}
	return names
}

func functionList() string {
	return strings.Join(functionNames(), ", ")
}

func init() {
	rootCmd.AddCommand(lambdaCmd)
}
