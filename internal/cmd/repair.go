package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/mender/internal/models"
	"github.com/harrison/mender/internal/repair"
)

// NewRepairCommand creates the repair command
func NewRepairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair [root]",
		Short: "Repair the latest crash of a project",
		Long: `Repair the latest crash record of a project (default: the current directory).

Each attempt asks the configured oracle for a patch, applies it and runs the
validation commands. Feedback from failed attempts is fed into the next
diagnosis. The run ends when validation passes or the attempt budget is spent,
and is recorded in the knowledge store either way.

Examples:
  mender repair
  mender repair ./service --max-iterations 5
  mender repair --crash-id crash_20260217_052359 --oracle groq
  mender repair --json > outcome.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRepair,
	}

	addConfigFlags(cmd)
	cmd.Flags().String("crash-id", "", "Repair this crash instead of the latest one")
	cmd.Flags().Bool("json", false, "Print the outcome as JSON on stdout (logs go to stderr)")

	return cmd
}

func runRepair(cmd *cobra.Command, args []string) error {
	root, err := projectRoot(args, 0)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return err
	}
	crashID, _ := cmd.Flags().GetString("crash-id")
	asJSON, _ := cmd.Flags().GetBool("json")

	lock, err := lockProject(root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	logOut := cmd.OutOrStdout()
	if asJSON {
		logOut = cmd.ErrOrStderr()
	}

	s, err := openSession(logOut, root, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := s.repair(ctx, crashID)
	if err != nil {
		return err
	}
	s.console.LogDebug(fmt.Sprintf("Run log: %s", s.file.RunFile()))

	if asJSON {
		if err := writeOutcomeJSON(cmd, outcome); err != nil {
			return err
		}
	}
	if !outcome.Success {
		return fmt.Errorf("%w: %w", errRepairFailed, repair.OutcomeError(outcome))
	}
	return nil
}

func writeOutcomeJSON(cmd *cobra.Command, outcome *models.RepairOutcome) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(outcome); err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	return nil
}
