// Package commands holds the boardpin CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var rootCmd = &cobra.Command{
	Use:   "boardpin",
	Short: "BoardPin - whiteboard code-reference coordinator",
	Long: `BoardPin keeps code-reference cards on collaborative whiteboards in
sync with editor workspaces.

Any number of boardpin processes may run on one machine; they elect a
single coordinator among themselves by racing for the coordination port,
and the losers attach to the winner as clients. When the coordinator
dies, the survivors re-run the election automatically.`,
	Version: version,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

// Execute runs the CLI. Cobra's own error printing stays silenced; commands
// print their failures themselves.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// SetVersionInfo sets build-time version details on the root command.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// setupLogging initializes structured logging from the environment.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("BOARDPIN_LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("BOARDPIN_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
