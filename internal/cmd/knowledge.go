package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/mender/internal/config"
	"github.com/harrison/mender/internal/knowledge"
	"github.com/harrison/mender/internal/models"
)

// NewKnowledgeCommand creates the knowledge command group
func NewKnowledgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Inspect the knowledge store",
		Long: `Inspect the knowledge crystals recorded by past repair runs.

The store location comes from the project config (knowledge.db_path) unless
--db-path is given.`,
	}

	cmd.PersistentFlags().String("db-path", "", "Path to the knowledge database (default from config)")

	cmd.AddCommand(newKnowledgeStatsCommand())
	cmd.AddCommand(newKnowledgeListCommand())
	cmd.AddCommand(newKnowledgeShowCommand())
	cmd.AddCommand(newKnowledgeExportCommand())
	cmd.AddCommand(newKnowledgeSchemaCommand())

	return cmd
}

// openKnowledgeStore opens the store for root, honouring --db-path.
func openKnowledgeStore(cmd *cobra.Command, root string) (*knowledge.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db-path")
	if dbPath == "" {
		cfg, err := config.LoadConfigFromDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		dbPath = cfg.KnowledgeDBPath(root)
	}

	store, err := knowledge.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	return store, nil
}

func newKnowledgeStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [root]",
		Short: "Show knowledge store totals and per-approach results",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			store, err := openKnowledgeStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			signature, _ := cmd.Flags().GetString("signature")
			limit, _ := cmd.Flags().GetInt("limit")

			stats, err := store.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get statistics: %w", err)
			}
			schema, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			var approaches []models.ApproachStat
			if signature != "" {
				approaches, err = store.ApproachStats(cmd.Context(), signature, limit)
				if err != nil {
					return fmt.Errorf("get approach statistics: %w", err)
				}
			}

			printKnowledgeStats(cmd.OutOrStdout(), stats, schema, signature, approaches)
			return nil
		},
	}

	cmd.Flags().String("signature", "", "Also show approach results for this crash signature")
	cmd.Flags().Int("limit", 10, "Maximum approaches to show")

	return cmd
}

func printKnowledgeStats(w io.Writer, stats *models.Stats, schema int, signature string, approaches []models.ApproachStat) {
	header := color.New(color.FgCyan, color.Bold)

	header.Fprintln(w, "=== Knowledge Store ===")
	fmt.Fprintf(w, "Schema:       v%d\n", schema)
	fmt.Fprintf(w, "Crystals:     %d\n", stats.TotalCrystals)
	fmt.Fprintf(w, "Successful:   %d\n", stats.Successful)
	fmt.Fprintf(w, "Failed:       %d\n", stats.Failed)
	fmt.Fprintf(w, "Passed tests: %d\n", stats.TestsPassed)
	if stats.TotalCrystals > 0 {
		rate := float64(stats.Successful) / float64(stats.TotalCrystals) * 100
		fmt.Fprintf(w, "Success rate: %.1f%%\n", rate)
	}

	if signature == "" {
		return
	}
	fmt.Fprintln(w)
	header.Fprintf(w, "=== Approaches for %s ===\n", signature)
	if len(approaches) == 0 {
		fmt.Fprintln(w, "No approaches recorded for this signature")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "APPROACH\tSUCCEEDED\tFAILED\tLAST USED")
	for _, a := range approaches {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", a.Approach, a.SuccessCount, a.FailureCount, a.LastUsed.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func newKnowledgeSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [root]",
		Short: "List the schema migrations applied to the knowledge store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			store, err := openKnowledgeStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			versions, err := store.AppliedVersions(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tAPPLIED")
			for _, v := range versions {
				fmt.Fprintf(tw, "%d\t%s\n", v.Version, v.AppliedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newKnowledgeListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [root]",
		Short: "List knowledge crystals, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			store, err := openKnowledgeStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			signature, _ := cmd.Flags().GetString("signature")
			limit, _ := cmd.Flags().GetInt("limit")

			crystals, err := listCrystals(cmd, store, signature, limit)
			if err != nil {
				return err
			}
			if len(crystals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No knowledge crystals recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATUS\tITER\tCRASH\tAPPROACH")
			for _, c := range crystals {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					c.ID, c.CreatedAt.Local().Format(time.DateTime), c.Status, c.Iterations, c.CrashID, c.FinalApproach)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("signature", "", "Only list crystals for this crash signature")
	cmd.Flags().Int("limit", 20, "Maximum crystals to list (0 = all)")

	return cmd
}

func listCrystals(cmd *cobra.Command, store *knowledge.Store, signature string, limit int) ([]*models.KnowledgeCrystal, error) {
	var crystals []*models.KnowledgeCrystal
	var err error
	if signature != "" {
		crystals, err = store.BySignature(cmd.Context(), signature, limit)
	} else {
		crystals, err = store.List(cmd.Context(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list crystals: %w", err)
	}
	return crystals, nil
}

func newKnowledgeShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id> [root]",
		Short: "Show one knowledge crystal with its attempts",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectRoot(args, 1)
			if err != nil {
				return err
			}
			store, err := openKnowledgeStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			crystal, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return exportKnowledgeJSON(cmd.OutOrStdout(), crystal)
			}
			printCrystal(cmd.OutOrStdout(), crystal)
			return nil
		},
	}

	cmd.Flags().Bool("json", false, "Print the crystal as JSON")

	return cmd
}

func printCrystal(w io.Writer, c *models.KnowledgeCrystal) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "=== Crystal %s ===\n", c.ID)
	fmt.Fprintf(w, "Created:    %s\n", c.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Crash:      %s\n", c.CrashID)
	fmt.Fprintf(w, "Signature:  %s\n", c.Signature)
	fmt.Fprintf(w, "Status:     %s\n", c.Status)
	fmt.Fprintf(w, "Iterations: %d\n", c.Iterations)
	if c.ErrorSummary != "" {
		fmt.Fprintf(w, "Error:      %s\n", c.ErrorSummary)
	}
	if c.FinalApproach != "" {
		fmt.Fprintf(w, "Approach:   %s\n", c.FinalApproach)
	}

	for _, a := range c.Attempts {
		fmt.Fprintf(w, "\nAttempt %d: %s\n", a.Index, attemptLabel(a))
		if a.Approach != "" {
			fmt.Fprintf(w, "  Approach: %s\n", a.Approach)
		}
		if a.Repeated {
			fmt.Fprintln(w, "  Repeated an earlier failed approach")
		}
		if a.Diagnostic != "" {
			for _, line := range strings.Split(strings.TrimRight(a.Diagnostic, "\n"), "\n") {
				fmt.Fprintf(w, "  | %s\n", line)
			}
		}
	}
}

func attemptLabel(a models.RepairAttempt) string {
	if a.Passed() {
		return "passed"
	}
	return "failed at " + a.FailedStage()
}

func newKnowledgeExportCommand() *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export [root]",
		Short: "Export knowledge crystals to JSON or CSV",
		Long: `Export every knowledge crystal with its attempts for external analysis or
backup. Data goes to stdout unless --output is given.

Examples:
  mender knowledge export --format json --output crystals.json
  mender knowledge export --format csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("invalid format '%s': format must be 'json' or 'csv'", format)
			}
			root, err := projectRoot(args, 0)
			if err != nil {
				return err
			}
			store, err := openKnowledgeStore(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.List(cmd.Context(), 0)
			if err != nil {
				return fmt.Errorf("list crystals: %w", err)
			}
			// Ensure JSON output is [] not null
			crystals := make([]*models.KnowledgeCrystal, 0, len(summaries))
			for _, s := range summaries {
				full, err := store.Get(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				crystals = append(crystals, full)
			}

			writer := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				writer = file
			}

			if format == "csv" {
				return exportKnowledgeCSV(writer, crystals)
			}
			return exportKnowledgeJSON(writer, crystals)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Export format (json|csv)")
	cmd.Flags().StringVar(&output, "output", "", "Output file path (stdout if not specified)")

	return cmd
}

func exportKnowledgeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// exportKnowledgeCSV writes one row per attempt so failed strategies are
// visible alongside the crystal they belong to.
func exportKnowledgeCSV(w io.Writer, crystals []*models.KnowledgeCrystal) error {
	csvWriter := csv.NewWriter(w)

	header := []string{
		"crystal_id",
		"created_at",
		"signature",
		"crash_id",
		"status",
		"iterations",
		"attempt",
		"approach",
		"failed_stage",
		"repeated",
		"duration_ms",
	}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, c := range crystals {
		for _, a := range c.Attempts {
			row := []string{
				c.ID,
				c.CreatedAt.UTC().Format(time.RFC3339),
				c.Signature,
				c.CrashID,
				string(c.Status),
				strconv.Itoa(c.Iterations),
				strconv.Itoa(a.Index),
				a.Approach,
				a.FailedStage(),
				strconv.FormatBool(a.Repeated),
				strconv.FormatInt(a.Duration.Milliseconds(), 10),
			}
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
