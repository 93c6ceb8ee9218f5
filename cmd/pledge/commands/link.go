package commands

import (
	"time"

	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	linkEvidence evidenceFlags
	linkScope    scopeFlags
	linkLimit    int
	linkDryRun   bool
	linkFormat   string
	linkVerbose  bool
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link pending evidence to the promises it supports",
	Long: `Run one linking batch over pending evidence.

Each item is matched lexically against the promise corpus, the surviving candidates
are judged by the oracle in one call, and the accepted links are written to both
sides of the relation. Affected promises are rescored immediately.

Items that fail are marked 'error' and the batch continues; reset them with
'pledge reset --status error' and run again.

Examples:
  # Link up to 50 bill events from the current session
  pledge link --source bill_event --session 44-1 --limit 50

  # Preview decisions without writing anything
  pledge link --dry-run --verbose

  # Machine-readable summary
  pledge link --format json | jq .errors`,
	RunE: runLink,
}

func init() {
	linkEvidence.register(linkCmd)
	linkScope.register(linkCmd)
	linkCmd.Flags().IntVar(&linkLimit, "limit", 0, "Maximum items to process (capped by linking.max_items_per_run)")
	linkCmd.Flags().BoolVar(&linkDryRun, "dry-run", false, "Compute decisions, including the oracle call, without writing")
	linkCmd.Flags().StringVar(&linkFormat, "format", "text", "Output format: text or json")
	linkCmd.Flags().BoolVarP(&linkVerbose, "verbose", "v", false, "Show the outcome of every item")

	rootCmd.AddCommand(linkCmd)
}

func runLink(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err := validateFormat(linkFormat); err != nil {
		return out.Error("invalid output format", err.Error(), nil, nil)
	}
	if linkLimit < 0 {
		return out.Error("invalid limit", "--limit must be >= 0", nil, nil)
	}

	criteria, err := linkEvidence.criteria(time.Now())
	if err != nil {
		return out.Error("invalid evidence filter", err.Error(), nil, nil)
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	scope, err := linkScope.scope(cmd, a.cfg.Linking.PromiseScope())
	if err != nil {
		return out.Error("invalid promise scope", err.Error(), nil, nil)
	}

	engine, err := a.engine(true)
	if err != nil {
		return err
	}

	summary, runErr := engine.RunLinking(cmd.Context(), pipeline.LinkRequest{
		Criteria: criteria,
		Scope:    scope,
		Limit:    linkLimit,
		DryRun:   linkDryRun,
	})
	if summary == nil {
		return out.Error("linking failed", runErr.Error(), map[string]string{"Instance": a.cfg.Instance}, nil)
	}

	if linkFormat == "json" {
		if err := writeJSON(out.Out(), summary); err != nil {
			return err
		}
	} else {
		printLinkSummary(out, summary, linkVerbose)
	}

	if runErr != nil {
		return out.Error("linking interrupted", runErr.Error(), nil,
			[]string{"Unprocessed items are still pending and will be picked up by the next run"})
	}
	return nil
}

func printLinkSummary(out *printer.Printer, s *pipeline.Summary, verbose bool) {
	if verbose {
		for _, item := range s.Items {
			out.Info("  %s  %-10s  candidates=%d", shortID(item.EvidenceID), item.Status, item.Candidates)
			if len(item.Added) > 0 {
				out.Info("  +%v", item.Added)
			}
			if len(item.Removed) > 0 {
				out.Info("  -%v", item.Removed)
			}
			out.Info("\n")
		}
		if len(s.Items) > 0 {
			out.Info("\n")
		}
	}

	out.Success("Linking run %s complete in %s\n", shortID(s.RunID), s.Duration.Round(time.Millisecond))
	out.Info("  Items processed:   %d\n", s.ItemsProcessed)
	out.Info("  No matches:        %d\n", s.NoMatches)
	out.Info("  Links created:     %d\n", s.LinksCreated)
	out.Info("  Links removed:     %d\n", s.LinksRemoved)
	out.Info("  Promises rescored: %d\n", s.PromisesRescored)
	out.Info("  Errors:            %d\n", s.Errors)

	if s.DryRun {
		for _, score := range s.Scores {
			out.Info("  Would score %s: %s (%d)\n", score.PromiseID, score.Progress.Status, score.Progress.Score)
		}
		out.Step("Dry run: nothing was written\n")
	}
	printErrors(out, s, "pledge reset --status error")
}

func printErrors(out *printer.Printer, s *pipeline.Summary, recovery string) {
	if s.Errors == 0 {
		return
	}
	out.Warning("%d failures", s.Errors)
	if len(s.ErrorMessages) < s.Errors {
		out.Info(" (first %d shown)", len(s.ErrorMessages))
	}
	out.Info(":\n")
	for _, msg := range s.ErrorMessages {
		out.Info("  - %s\n", msg)
	}
	if recovery != "" {
		out.Info("\nAfter fixing the cause, retry with:\n  %s\n", recovery)
	}
}
