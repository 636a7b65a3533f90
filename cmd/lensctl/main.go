// Command lensctl is the ad-hoc companion CLI for Discourse Lens: a
// single-URL run, a crash-resumable overnight batch runner, a phenomenon
// registry reconciler, and comment backfill tools. Grounded on
// theRebelliousNerd-codenerd's cmd/nerd layout (a cobra rootCmd with
// flags as package-level vars, commands split across one file per
// concern) and on original_source/tools/batch_runner.py and
// original_source/database/*.py for the exact semantics of the tools
// this CLI replaces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "lensctl",
	Short: "Ad-hoc operator tools for Discourse Lens",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server-url", getEnv("LENSCTL_SERVER_URL", "http://localhost:8080"), "base URL of a running discourse-lens server")
	rootCmd.AddCommand(runCmd, batchCmd, registryCmd, backfillCmd)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
