package filter

import (
	"testing"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/stretchr/testify/assert"
)

func TestCriteriaMatches(t *testing.T) {
	session := "44-1"
	other := "43-2"
	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	bill := &ledger.EvidenceItem{SourceType: ledger.SourceTypeBillEvent, EventDate: march, ParliamentSession: &session}
	news := &ledger.EvidenceItem{SourceType: ledger.SourceTypeNewsRelease, EventDate: march, ParliamentSession: &other}
	unsessioned := &ledger.EvidenceItem{SourceType: ledger.SourceTypeGazetteNotice, EventDate: march}

	tests := []struct {
		name     string
		criteria Criteria
		item     *ledger.EvidenceItem
		want     bool
	}{
		{name: "empty criteria match all", criteria: Criteria{}, item: unsessioned, want: true},
		{name: "session match", criteria: Criteria{ParliamentSession: "44-1"}, item: bill, want: true},
		{name: "session mismatch", criteria: Criteria{ParliamentSession: "44-1"}, item: news, want: false},
		{name: "session filter excludes unsessioned", criteria: Criteria{ParliamentSession: "44-1"}, item: unsessioned, want: false},
		{name: "type in set", criteria: Criteria{SourceTypes: []ledger.SourceType{ledger.SourceTypeNewsRelease, ledger.SourceTypeBillEvent}}, item: bill, want: true},
		{name: "type not in set", criteria: Criteria{SourceTypes: []ledger.SourceType{ledger.SourceTypeNewsRelease}}, item: bill, want: false},
		{name: "since is inclusive", criteria: Criteria{Since: march}, item: bill, want: true},
		{name: "before since", criteria: Criteria{Since: march.AddDate(0, 0, 1)}, item: bill, want: false},
		{name: "until is inclusive", criteria: Criteria{Until: march}, item: bill, want: true},
		{name: "after until", criteria: Criteria{Until: march.AddDate(0, 0, -1)}, item: bill, want: false},
		{
			name:     "all criteria ANDed",
			criteria: Criteria{ParliamentSession: "44-1", SourceTypes: []ledger.SourceType{ledger.SourceTypeBillEvent}, Since: march, Until: march},
			item:     bill,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.criteria.Matches(tt.item))
		})
	}
}

func TestCriteriaHasFilters(t *testing.T) {
	assert.False(t, (&Criteria{}).HasFilters())
	assert.True(t, (&Criteria{ParliamentSession: "44-1"}).HasFilters())
	assert.True(t, (&Criteria{SourceTypes: []ledger.SourceType{ledger.SourceTypeOther}}).HasFilters())
	assert.True(t, (&Criteria{Until: time.Now()}).HasFilters())
}

func TestCriteriaValidate(t *testing.T) {
	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, (&Criteria{Since: march, Until: march}).Validate())
	assert.Error(t, (&Criteria{Since: march, Until: march.AddDate(0, 0, -1)}).Validate())
	assert.Error(t, (&Criteria{SourceTypes: []ledger.SourceType{"press_conference"}}).Validate())
}
