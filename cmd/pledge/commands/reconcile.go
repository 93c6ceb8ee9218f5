package commands

import (
	"time"

	"github.com/dyluth/pledge/internal/printer"
	"github.com/dyluth/pledge/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	reconcileDryRun  bool
	reconcileRescore bool
	reconcileFormat  string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair drift between the evidence and promise sides of the link relation",
	Long: `Scan every evidence item and promise and repair:
  - missing back-references (evidence links a promise that does not list it)
  - dangling references (evidence links a promise that no longer exists)
  - orphans (a promise lists evidence that does not link it, or no longer exists)
  - linking statuses that disagree with the item's links

Reconciliation is idempotent and safe to schedule; a second run repairs nothing.

Examples:
  # Report drift without repairing
  pledge reconcile --dry-run

  # Repair and rescore every promise touched by a repair
  pledge reconcile --rescore`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "Report repairs without writing")
	reconcileCmd.Flags().BoolVar(&reconcileRescore, "rescore", false, "Rescore promises affected by repairs")
	reconcileCmd.Flags().StringVar(&reconcileFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err := validateFormat(reconcileFormat); err != nil {
		return out.Error("invalid output format", err.Error(), nil, nil)
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reconciler := reconcile.New(a.client, a.aggregator(), a.cfg.Reconcile.BatchSize, a.logger, a.metrics)
	report, err := reconciler.Run(cmd.Context(), reconcile.Options{DryRun: reconcileDryRun, Rescore: reconcileRescore})
	if err != nil {
		return out.Error("reconciliation failed", err.Error(), map[string]string{"Instance": a.cfg.Instance},
			[]string{"Reconciliation is idempotent; re-run it once the cause is fixed"})
	}

	if reconcileFormat == "json" {
		return writeJSON(out.Out(), report)
	}

	verb := "Repaired"
	if report.DryRun {
		verb = "Would repair"
	}
	out.Success("Reconciled %d evidence items and %d promises in %s\n",
		report.EvidenceScanned, report.PromisesScanned, report.Duration.Round(time.Millisecond))
	out.Info("  %s:\n", verb)
	out.Info("    Back-references added:  %d\n", report.BackRefsAdded)
	out.Info("    Dangling refs dropped:  %d\n", report.DanglingRefsDropped)
	out.Info("    Orphans removed:        %d\n", report.OrphansRemoved)
	out.Info("    Statuses repaired:      %d\n", report.StatusesRepaired)
	out.Info("    Index entries added:    %d\n", report.IndexEntriesAdded)
	if reconcileRescore {
		out.Info("  Promises rescored:        %d\n", report.Rescored)
	}
	if report.DryRun && report.Repairs() > 0 {
		out.Step("Dry run: run without --dry-run to apply %d repairs\n", report.Repairs())
	}
	return nil
}
