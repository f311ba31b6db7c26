// Package cli defines the Cobra command tree for the nira server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// configPath is the shared --config flag.
var configPath string

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nira",
	Short: "Conversational AI companion backend",
	Long: `NIRA is the backend for a conversational AI companion: it remembers
your users, gates their trials, talks to a fallback chain of language-model
providers, and keeps long-term memory fresh in the background.

Run 'nira serve' to start the HTTP server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "nira.toml", "path to the config file")
	rootCmd.AddCommand(
		newServeCmd(),
		newInitSettingsCmd(),
		newSettingsCmd(),
		newProCmd(),
		newDiagnoseCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nira %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
