package main

import (
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

var nlpCmd = &cobra.Command{
	Use:   "nlp",
	Short: "Analyze review text with Claude",
}

var nlpType string

var nlpAnalyzeCmd = &cobra.Command{
	Use:   "analyze [text]",
	Short: "Run emotion, sentiment or negative feedback analysis",
	Long:  "Analyzes the given text. With no argument or \"-\" the text is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := analysisText(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		env, err := initApp(cmd.Context(), "nlp", needs{llm: true})
		if err != nil {
			return err
		}
		defer env.Close()
		return runCommand(cmd, env.Dispatcher, dispatch.AnalyzeText{Text: text, AnalysisType: nlpType})
	},
}

func analysisText(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", eris.Wrap(err, "read stdin")
	}
	return strings.TrimSpace(string(b)), nil
}

func init() {
	nlpAnalyzeCmd.Flags().StringVar(&nlpType, "type", "sentiment", "analysis type: emotion, sentiment or negative_feedback")
	nlpCmd.AddCommand(nlpAnalyzeCmd)
	rootCmd.AddCommand(nlpCmd)
}
