package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/pledge/internal/inspect"
	"github.com/dyluth/pledge/internal/printer"
	"github.com/dyluth/pledge/internal/resolver"
	"github.com/spf13/cobra"
)

var (
	evidenceListFilters evidenceFlags
	evidenceListStatus  []string
	evidenceListLimit   int
	evidenceListFormat  string
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect evidence items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var evidenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evidence items with their linking status",
	Long: `List evidence items, oldest event first.

Output Formats:
  table - ID, date, source, status, link count and title
  jsonl - Complete items, one JSON object per line

Examples:
  # What failed?
  pledge evidence list --status error

  # Everything from this session's bills, for jq
  pledge evidence list --session 44-1 --source bill_event --format jsonl | jq .title`,
	Args: cobra.NoArgs,
	RunE: runEvidenceList,
}

var evidenceGetCmd = &cobra.Command{
	Use:   "get EVIDENCE_ID",
	Short: "Show one evidence item as JSON (short ID prefixes accepted)",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvidenceGet,
}

var promiseCmd = &cobra.Command{
	Use:   "promise",
	Short: "Inspect promises",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var promiseGetCmd = &cobra.Command{
	Use:   "get PROMISE_ID",
	Short: "Show one promise, its linked evidence and progress as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromiseGet,
}

func init() {
	evidenceListFilters.register(evidenceListCmd)
	evidenceListCmd.Flags().StringSliceVar(&evidenceListStatus, "status", nil, "Only these linking statuses: pending, processed, no_matches, error")
	evidenceListCmd.Flags().IntVar(&evidenceListLimit, "limit", 0, "Maximum items to show (0 = no limit)")
	evidenceListCmd.Flags().StringVarP(&evidenceListFormat, "format", "o", "table", "Output format: table or jsonl")

	evidenceCmd.AddCommand(evidenceListCmd, evidenceGetCmd)
	promiseCmd.AddCommand(promiseGetCmd)
	rootCmd.AddCommand(evidenceCmd, promiseCmd)
}

func runEvidenceList(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	format, err := inspect.ParseOutputFormat(evidenceListFormat)
	if err != nil {
		return out.Error("invalid output format", err.Error(), nil, []string{"Valid formats: table, jsonl"})
	}
	statuses, err := parseStatuses(evidenceListStatus)
	if err != nil {
		return out.Error("invalid --status", err.Error(), nil, nil)
	}
	criteria, err := evidenceListFilters.criteria(time.Now())
	if err != nil {
		return out.Error("invalid evidence filter", err.Error(), nil, nil)
	}

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	q := inspect.ListQuery{Statuses: statuses, Criteria: criteria, Limit: evidenceListLimit}
	if err := inspect.ListEvidence(cmd.Context(), a.client, q, format, out.Out()); err != nil {
		return out.Error("failed to list evidence", err.Error(), map[string]string{"Instance": a.cfg.Instance}, nil)
	}
	return nil
}

func runEvidenceGet(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := resolveEvidenceID(cmd, a, out, args[0])
	if err != nil {
		return err
	}

	if err := inspect.GetEvidence(cmd.Context(), a.client, id, out.Out()); err != nil {
		if inspect.IsNotFound(err) {
			return out.Error("evidence not found",
				fmt.Sprintf("No evidence with ID %s in instance '%s'.", args[0], a.cfg.Instance),
				nil, []string{"List evidence:\n  pledge evidence list"})
		}
		return out.Error("failed to get evidence", err.Error(), nil, nil)
	}
	return nil
}

// resolveEvidenceID expands a short ID, printing a formatted error when it cannot.
func resolveEvidenceID(cmd *cobra.Command, a *app, out *printer.Printer, id string) (string, error) {
	full, err := resolver.ResolveEvidenceID(cmd.Context(), a.client, id)
	if err == nil {
		return full, nil
	}

	var (
		notFound  *resolver.NotFoundError
		ambiguous *resolver.AmbiguousError
	)
	switch {
	case errors.As(err, &notFound):
		return "", out.Error("evidence not found",
			fmt.Sprintf("No evidence matching '%s' in instance '%s'.", id, a.cfg.Instance),
			nil, []string{"List evidence:\n  pledge evidence list"})
	case errors.As(err, &ambiguous):
		return "", out.Error("ambiguous evidence ID", ambiguous.Error()+":\n"+ambiguous.Describe(), nil, nil)
	default:
		return "", out.Error("invalid evidence ID", err.Error(), nil, nil)
	}
}

func runPromiseGet(cmd *cobra.Command, args []string) error {
	out := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())

	a, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := inspect.GetPromise(cmd.Context(), a.client, args[0], time.Now(), out.Out()); err != nil {
		if inspect.IsNotFound(err) {
			return out.Error("promise not found",
				fmt.Sprintf("No promise with ID %s in instance '%s'.", args[0], a.cfg.Instance),
				nil, nil)
		}
		return out.Error("failed to get promise", err.Error(), nil, nil)
	}
	return nil
}
