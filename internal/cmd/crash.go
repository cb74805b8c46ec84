package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/mender/internal/config"
	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/models"
)

// NewCrashCommand creates the crash command group
func NewCrashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crash",
		Short: "Inspect and capture crash records",
	}

	cmd.AddCommand(newCrashLatestCommand())
	cmd.AddCommand(newCrashListCommand())
	cmd.AddCommand(newCrashCaptureCommand())

	return cmd
}

// crashSource returns the configured crash source for root.
func crashSource(root string) (*crash.Source, error) {
	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return crash.NewSource(cfg.CrashesDirPath(root)), nil
}

func newCrashLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest [root]",
		Short: "Show the most recent crash record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			source, err := crashSource(root)
			if err != nil {
				return err
			}
			c, err := source.Latest(cmd.Context(), root)
			if err != nil {
				return err
			}
			printCrash(cmd.OutOrStdout(), c)
			return nil
		},
	}
}

func printCrash(w io.Writer, c *models.CrashContext) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "=== %s ===\n", c.ID)
	fmt.Fprintf(w, "Time:      %s\n", c.Timestamp.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Signature: %s\n", c.Signature)
	if c.Command != "" {
		fmt.Fprintf(w, "Command:   %s\n", c.Command)
	}
	fmt.Fprintf(w, "Error:     %s\n", c.Error)
	if c.Traceback != "" {
		fmt.Fprintf(w, "\n%s\n", c.Traceback)
	}
}

func newCrashListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [root]",
		Short: "List crash records, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			source, err := crashSource(root)
			if err != nil {
				return err
			}
			ids, err := source.List(cmd.Context(), root)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No crash records under %s\n", source.Path(root))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSIGNATURE\tERROR")
			for _, id := range ids {
				c, err := source.Get(cmd.Context(), root, id)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\tunreadable: %v\n", id, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", id, c.Signature, c.Error)
			}
			return tw.Flush()
		},
	}
}

func newCrashCaptureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capture [root] -- <command> [args...]",
		Short: "Run a command and record a crash if it fails",
		Long: `Run a command in the project root. If it exits non-zero, its combined output
is saved as a new crash record that mender repair (or mender watch) picks up.

Examples:
  mender crash capture -- python app.py
  mender crash capture ./service -- go run ./cmd/server`,
		RunE: runCrashCapture,
	}
}

func runCrashCapture(cmd *cobra.Command, args []string) error {
	dash := cmd.ArgsLenAtDash()
	if dash < 0 || dash >= len(args) {
		return errors.New("no command given: use capture [root] -- <command> [args...]")
	}
	if dash > 1 {
		return fmt.Errorf("expected at most one root before --, got %d", dash)
	}
	root, err := projectRoot(args[:dash], 0)
	if err != nil {
		return err
	}
	command := args[dash:]

	source, err := crashSource(root)
	if err != nil {
		return err
	}

	var output bytes.Buffer
	run := exec.CommandContext(cmd.Context(), command[0], command[1:]...)
	run.Dir = root
	run.Stdout = io.MultiWriter(&output, cmd.OutOrStdout())
	run.Stderr = io.MultiWriter(&output, cmd.ErrOrStderr())

	runErr := run.Run()
	if runErr == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Command succeeded; no crash recorded")
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return fmt.Errorf("failed to run %s: %w", command[0], runErr)
	}

	traceback := output.String()
	if strings.TrimSpace(traceback) == "" {
		traceback = runErr.Error()
	}
	id, err := source.Save(root, crash.Record{
		Traceback: traceback,
		Command:   strings.Join(command, " "),
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("save crash record: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Recorded crash %s\n", id)
	return fmt.Errorf("%s exited with status %d", command[0], exitErr.ExitCode())
}
