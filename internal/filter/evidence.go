// Package filter selects evidence items for a linking run.
package filter

import (
	"fmt"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
)

// Criteria defines selection criteria for evidence items.
// All filters are ANDed together - an item must match ALL criteria to pass.
type Criteria struct {
	ParliamentSession string              // Exact match, empty = no filter
	SourceTypes       []ledger.SourceType // Any of, empty = no filter
	Since             time.Time           // Inclusive lower bound on event date, zero = no filter
	Until             time.Time           // Inclusive upper bound on event date, zero = no filter
}

// Matches returns true if the evidence item matches all filter criteria.
// Items without a parliament session never match a session filter.
func (c *Criteria) Matches(e *ledger.EvidenceItem) bool {
	if c.ParliamentSession != "" {
		if e.ParliamentSession == nil || *e.ParliamentSession != c.ParliamentSession {
			return false
		}
	}

	if len(c.SourceTypes) > 0 {
		found := false
		for _, st := range c.SourceTypes {
			if e.SourceType == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if !c.Since.IsZero() && e.EventDate.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.EventDate.After(c.Until) {
		return false
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.ParliamentSession != "" ||
		len(c.SourceTypes) > 0 ||
		!c.Since.IsZero() ||
		!c.Until.IsZero()
}

// Validate checks the source types and the date range.
func (c *Criteria) Validate() error {
	for _, st := range c.SourceTypes {
		if err := st.Validate(); err != nil {
			return err
		}
	}
	if !c.Since.IsZero() && !c.Until.IsZero() && c.Until.Before(c.Since) {
		return fmt.Errorf("event date range is empty: since %s is after until %s",
			c.Since.Format(time.RFC3339), c.Until.Format(time.RFC3339))
	}
	return nil
}
