package commands

import (
	"time"

	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/dyluth/pledge/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	scoreSince  string
	scoreIDs    []string
	scoreLimit  int
	scoreDryRun bool
	scoreFormat string
)

var scoreCmd = &cobra.Command{
	Use:   "score [PROMISE_ID...]",
	Short: "Recompute promise progress from linked evidence",
	Long: `Recompute the progress score and status of promises from their linked evidence.

Selection, in order of precedence:
  PROMISE_ID arguments or --id  - exactly these promises
  --since                       - promises whose links changed since this time
  (neither)                     - every promise

Scoring is idempotent; running it twice writes the same values.

Examples:
  # Rescore promises touched in the last day
  pledge score --since 24h

  # Preview one promise's score
  pledge score P-0042 --dry-run`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVar(&scoreSince, "since", "", "Only promises whose links changed since this time (duration, date or RFC3339)")
	scoreCmd.Flags().StringSliceVar(&scoreIDs, "id", nil, "Only these promise IDs")
	scoreCmd.Flags().IntVar(&scoreLimit, "limit", 0, "Maximum promises to rescore (0 = no limit)")
	scoreCmd.Flags().BoolVar(&scoreDryRun, "dry-run", false, "Compute scores without writing them")
	scoreCmd.Flags().StringVar(&scoreFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err := validateFormat(scoreFormat); err != nil {
		return out.Error("invalid output format", err.Error(), nil, nil)
	}
	if scoreLimit < 0 {
		return out.Error("invalid limit", "--limit must be >= 0", nil, nil)
	}

	req := pipeline.ScoreRequest{
		PromiseIDs: append(append([]string{}, args...), scoreIDs...),
		Limit:      scoreLimit,
		DryRun:     scoreDryRun,
	}
	if scoreSince != "" {
		since, err := timespec.Parse(scoreSince, time.Now())
		if err != nil {
			return out.Error("invalid --since", err.Error(), nil, nil)
		}
		req.Since = since
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	engine, err := a.engine(false)
	if err != nil {
		return err
	}

	summary, runErr := engine.RunScoring(cmd.Context(), req)
	if summary == nil {
		return out.Error("scoring failed", runErr.Error(), map[string]string{"Instance": a.cfg.Instance}, nil)
	}

	if scoreFormat == "json" {
		if err := writeJSON(out.Out(), summary); err != nil {
			return err
		}
	} else {
		printScoreSummary(out, summary)
	}

	if runErr != nil {
		return out.Error("scoring interrupted", runErr.Error(), nil, nil)
	}
	return nil
}

func printScoreSummary(out *printer.Printer, s *pipeline.Summary) {
	if len(s.Scores) > 0 {
		row := "%-24s %-12s %-5s %-8s %s\n"
		out.Info(row, "PROMISE", "STATUS", "SCORE", "EVIDENCE", "LATEST")
		for _, ps := range s.Scores {
			latest := "-"
			if ps.Progress.LatestEvidenceAt != nil {
				latest = ps.Progress.LatestEvidenceAt.UTC().Format("2006-01-02")
			}
			out.Info(row, ps.PromiseID, ps.Progress.Status, itoa(ps.Progress.Score), itoa(ps.Progress.EvidenceCount), latest)
		}
		out.Info("\n")
	}

	out.Success("Scoring run %s complete in %s: %d promises rescored\n",
		shortID(s.RunID), s.Duration.Round(time.Millisecond), s.PromisesRescored)
	if s.DryRun {
		out.Step("Dry run: nothing was written\n")
	}
	printErrors(out, s, "")
}
