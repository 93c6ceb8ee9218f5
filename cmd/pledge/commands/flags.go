package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dyluth/pledge/internal/filter"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/internal/timespec"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/spf13/cobra"
)

// evidenceFlags select evidence by session, source type and event date.
type evidenceFlags struct {
	session string
	sources []string
	since   string
	until   string
}

func (f *evidenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "Only evidence from this parliament session (e.g. 44-1)")
	cmd.Flags().StringSliceVar(&f.sources, "source", nil, "Only these source types: bill_event, order_in_council, gazette_notice, news_release, other")
	cmd.Flags().StringVar(&f.since, "since", "", "Only evidence dated at or after this time (duration, date or RFC3339)")
	cmd.Flags().StringVar(&f.until, "until", "", "Only evidence dated at or before this time (duration, date or RFC3339)")
}

func (f *evidenceFlags) criteria(now time.Time) (filter.Criteria, error) {
	since, until, err := timespec.ParseRange(f.since, f.until, now)
	if err != nil {
		return filter.Criteria{}, err
	}

	c := filter.Criteria{ParliamentSession: f.session, Since: since, Until: until}
	for _, s := range f.sources {
		c.SourceTypes = append(c.SourceTypes, ledger.SourceType(s))
	}
	if err := c.Validate(); err != nil {
		return filter.Criteria{}, err
	}
	return c, nil
}

// scopeFlags override the configured promise corpus scope.
type scopeFlags struct {
	parties        []string
	maxRank        int
	promiseSession string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.parties, "party", nil, "Only promises from these party codes (overrides linking.scope)")
	cmd.Flags().IntVar(&f.maxRank, "max-rank", 0, "Only ranked promises with rank <= N (overrides linking.scope)")
	cmd.Flags().StringVar(&f.promiseSession, "promise-session", "", "Only promises from this parliament session (overrides linking.scope)")
}

func (f *scopeFlags) scope(cmd *cobra.Command, base prefilter.Scope) (prefilter.Scope, error) {
	if cmd.Flags().Changed("party") {
		base.PartyCodes = f.parties
	}
	if cmd.Flags().Changed("max-rank") {
		if f.maxRank < 0 {
			return base, fmt.Errorf("--max-rank must be >= 0")
		}
		base.MaxRank = f.maxRank
	}
	if cmd.Flags().Changed("promise-session") {
		base.ParliamentSession = f.promiseSession
	}
	return base, nil
}

func parseStatuses(values []string) ([]ledger.LinkingStatus, error) {
	statuses := make([]ledger.LinkingStatus, 0, len(values))
	for _, v := range values {
		s := ledger.LinkingStatus(v)
		if err := s.Validate(); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

func validateFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown output format: %s (must be 'text' or 'json')", format)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
