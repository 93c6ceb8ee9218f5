package commands

import (
	"github.com/dyluth/pledge/internal/pipeline"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/spf13/cobra"
)

var (
	resetStatuses []string
	resetIDs      []string
	resetFormat   string
)

var resetCmd = &cobra.Command{
	Use:   "reset [EVIDENCE_ID...]",
	Short: "Return evidence to pending so the next linking run reprocesses it",
	Long: `Return evidence items to 'pending'. This is the recovery path for failed items
and the way to relink evidence after the promise corpus changes.

Existing links are kept until the next linking pass replaces them. A running
'pledge watch' picks reset items up immediately.

Examples:
  # Retry everything that failed
  pledge reset --status error

  # Relink specific items
  pledge reset 6f1c0c6e-3a55-5b7e-9d0f-4b7f6f2d1a11`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringSliceVar(&resetStatuses, "status", nil, "Reset every item in these statuses: error, no_matches, processed")
	resetCmd.Flags().StringSliceVar(&resetIDs, "id", nil, "Reset these evidence IDs")
	resetCmd.Flags().StringVar(&resetFormat, "format", "text", "Output format: text or json")

	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err := validateFormat(resetFormat); err != nil {
		return out.Error("invalid output format", err.Error(), nil, nil)
	}

	statuses, err := parseStatuses(resetStatuses)
	if err != nil {
		return out.Error("invalid --status", err.Error(), nil, nil)
	}
	req := pipeline.ResetRequest{Statuses: statuses, IDs: append(append([]string{}, args...), resetIDs...)}
	if len(req.Statuses) == 0 && len(req.IDs) == 0 {
		return out.Error("nothing to reset", "Specify evidence IDs or a status.", nil,
			[]string{"Retry failed items:\n  pledge reset --status error"})
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	for i, id := range req.IDs {
		if req.IDs[i], err = resolveEvidenceID(cmd, a, out, id); err != nil {
			return err
		}
	}

	engine, err := a.engine(false)
	if err != nil {
		return err
	}

	summary, err := engine.Reset(cmd.Context(), req)
	if err != nil {
		return out.Error("reset failed", err.Error(), map[string]string{"Instance": a.cfg.Instance}, nil)
	}

	if resetFormat == "json" {
		return writeJSON(out.Out(), summary)
	}

	out.Success("Reset %d evidence items to pending\n", summary.Reset)
	if summary.AlreadyPending > 0 {
		out.Info("  %d already pending\n", summary.AlreadyPending)
	}
	for _, id := range summary.NotFound {
		out.Warning("Evidence %s not found\n", id)
	}
	return nil
}
