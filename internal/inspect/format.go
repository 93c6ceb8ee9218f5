// Package inspect renders ledger contents for operators: evidence lists as a table or JSON
// lines, and single evidence items or promises as pretty JSON.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
)

// FormatTable writes evidence items as a table and returns the number written.
func FormatTable(w io.Writer, items []*ledger.EvidenceItem, instanceName string) int {
	if len(items) == 0 {
		fmt.Fprintf(w, "No evidence found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Evidence for instance '%s':\n\n", instanceName)

	row := "%-10s %-10s %-10s %-11s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "DATE", "SOURCE", "STATUS", "LINKS", "TITLE")
	fmt.Fprintf(w, row, "----------", "----------", "----------", "-----------", "--------",
		"----------------------------------------")

	for _, e := range items {
		fmt.Fprintf(w, row,
			formatID(e.ID),
			e.EventDate.UTC().Format("2006-01-02"),
			formatSource(e.SourceType),
			string(e.LinkingStatus),
			formatLinks(e.PromiseIDs),
			formatTitle(e.Title),
		)
	}

	noun := "item"
	if len(items) != 1 {
		noun = "items"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(items), noun)

	return len(items)
}

// FormatJSONL writes each evidence item as one compact JSON object per line.
func FormatJSONL(w io.Writer, items []*ledger.EvidenceItem) error {
	enc := json.NewEncoder(w)
	for _, e := range items {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes v as indented JSON followed by a newline.
func FormatJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSource(s ledger.SourceType) string {
	switch s {
	case ledger.SourceTypeBillEvent:
		return "bill"
	case ledger.SourceTypeOrderInCouncil:
		return "oic"
	case ledger.SourceTypeGazetteNotice:
		return "gazette"
	case ledger.SourceTypeNewsRelease:
		return "news"
	}
	return string(s)
}

// formatLinks shows the link count, or "-" when unlinked.
func formatLinks(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", len(ids))
}

// formatTitle keeps the first line, truncated to 40 characters.
func formatTitle(title string) string {
	line := strings.TrimSpace(strings.SplitN(title, "\n", 2)[0])
	if line == "" {
		return "-"
	}
	if r := []rune(line); len(r) > 40 {
		return string(r[:37]) + "..."
	}
	return line
}

// formatAge renders t relative to now, e.g. "3h ago".
func formatAge(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	diff := now.Sub(*t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
