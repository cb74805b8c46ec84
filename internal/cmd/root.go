package cmd

import (
	"github.com/spf13/cobra"

	"github.com/harrison/mender/internal/repair"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for mender
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mender",
		Short: "Automated crash repair with a learning knowledge base",
		Long: `Mender repairs crashed programs. It reads the latest crash record of a
project, asks a diagnosis oracle for a fix, applies it, runs the project's
validation commands and iterates with the accumulated feedback until the
fix passes or the attempt budget runs out.

Every run, successful or not, is saved as a knowledge crystal so that later
runs on the same crash signature start from what was learned.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRepairCommand())
	cmd.AddCommand(NewWatchCommand())
	cmd.AddCommand(NewKnowledgeCommand())
	cmd.AddCommand(NewCrashCommand())

	return cmd
}

// ExitCode maps an error returned by the root command to a process exit
// status: 0 for nil, 2 for configuration errors and 1 for anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case repair.IsConfigurationError(err):
		return 2
	default:
		return 1
	}
}
