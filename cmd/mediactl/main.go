package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func NewRootCommand() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "mediactl",
		Short: "Operator tooling for simple-media",
		Long: `mediactl manages a simple-media deployment.

It generates notification signing keys, verifies signed notifications,
runs database migrations and purges cached derivatives. Backends are
selected with the same environment variables as media-server.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewKeygenCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewPurgeCommand())
	rootCmd.AddCommand(NewSweepCommand())

	return rootCmd
}
