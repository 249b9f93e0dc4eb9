package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runCommand executes cmd through the dispatcher and prints the result. A
// failed command prints its error envelope and returns an error so the
// process exits non-zero.
func runCommand(c *cobra.Command, d *dispatch.Dispatcher, cmd dispatch.Command) error {
	resp := d.Execute(c.Context(), cmd)
	if err := printJSON(c.OutOrStdout(), resp.Body); err != nil {
		return eris.Wrap(err, "write output")
	}
	if !resp.Body.Success {
		return eris.Errorf("%s failed with status %d", cmd.Action(), resp.StatusCode)
	}
	return nil
}
