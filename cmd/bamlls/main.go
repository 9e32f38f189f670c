package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bamlls/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "bamlls",
	Short: "BAML language server and project checker",
	Long:  `bamlls keeps per-project models of BAML sources up to date for editors and CI`,
}

// main registers subcommands and persistent flags, then executes the root
// command. A command error exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(lspCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("config", "", "path to bamlls.toml (default: searched upward from the working directory)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("log-level", "", "override [log].level")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
