// Package progress derives a promise's progress score and status from the evidence linked to
// it. Scoring is a pure function of the evidence set, so rescoring is idempotent and redundant
// concurrent rescoring of one promise is harmless.
package progress

import (
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
)

// Scorer computes progress from a promise's linked evidence.
type Scorer interface {
	Score(evidence []*ledger.EvidenceItem) ledger.Progress
}

// Default policy parameters.
const (
	DefaultRecencyWindow = 180 * 24 * time.Hour
	DefaultMomentumCount = 3
)

// Score bands per status. The upper bound of a band is reached only with momentum.
var bands = map[ledger.ProgressStatus][2]int{
	ledger.ProgressNotStarted: {0, 0},
	ledger.ProgressInProgress: {1, 2},
	ledger.ProgressAdvanced:   {3, 4},
	ledger.ProgressFulfilled:  {5, 5},
}

// Policy is the default Scorer.
//
// Status is the furthest stage any evidence reaches:
//   - fulfilled: a bill event at royal assent
//   - advanced: an order in council, a gazette notice, or a bill event at committee or later
//   - in_progress: any other evidence
//   - not_started: no evidence
//
// The score is the bottom of the status band, plus one when the evidence shows momentum:
// at least two distinct source types, or at least MomentumCount items dated within
// RecencyWindow of the latest evidence.
type Policy struct {
	RecencyWindow time.Duration
	MomentumCount int
}

// DefaultPolicy returns the policy with default parameters.
func DefaultPolicy() Policy {
	return Policy{RecencyWindow: DefaultRecencyWindow, MomentumCount: DefaultMomentumCount}
}

// Score implements Scorer.
func (p Policy) Score(evidence []*ledger.EvidenceItem) ledger.Progress {
	items := distinct(evidence)
	if len(items) == 0 {
		return ledger.Progress{Status: ledger.ProgressNotStarted}
	}

	status := ledger.ProgressInProgress
	var latest time.Time
	for _, e := range items {
		if s := stageOf(e); rank(s) > rank(status) {
			status = s
		}
		if e.EventDate.After(latest) {
			latest = e.EventDate
		}
	}

	band := bands[status]
	score := band[0]
	if score < band[1] && p.hasMomentum(items, latest) {
		score++
	}

	latestUTC := latest.UTC()
	return ledger.Progress{
		Score:            score,
		Status:           status,
		EvidenceCount:    len(items),
		LatestEvidenceAt: &latestUTC,
	}
}

func (p Policy) hasMomentum(items []*ledger.EvidenceItem, latest time.Time) bool {
	types := make(map[ledger.SourceType]struct{})
	for _, e := range items {
		types[e.SourceType] = struct{}{}
	}
	if len(types) >= 2 {
		return true
	}

	window := p.RecencyWindow
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	threshold := p.MomentumCount
	if threshold <= 0 {
		threshold = DefaultMomentumCount
	}

	cutoff := latest.Add(-window)
	recent := 0
	for _, e := range items {
		if !e.EventDate.Before(cutoff) {
			recent++
		}
	}
	return recent >= threshold
}

// stageOf returns the furthest status a single evidence item supports.
func stageOf(e *ledger.EvidenceItem) ledger.ProgressStatus {
	switch e.SourceType {
	case ledger.SourceTypeBillEvent:
		if e.BillStage == nil {
			return ledger.ProgressInProgress
		}
		if *e.BillStage == ledger.BillStageRoyalAssent {
			return ledger.ProgressFulfilled
		}
		if e.BillStage.AtLeast(ledger.BillStageCommittee) {
			return ledger.ProgressAdvanced
		}
		return ledger.ProgressInProgress
	case ledger.SourceTypeOrderInCouncil, ledger.SourceTypeGazetteNotice:
		return ledger.ProgressAdvanced
	default:
		return ledger.ProgressInProgress
	}
}

func rank(s ledger.ProgressStatus) int {
	switch s {
	case ledger.ProgressInProgress:
		return 1
	case ledger.ProgressAdvanced:
		return 2
	case ledger.ProgressFulfilled:
		return 3
	default:
		return 0
	}
}

// distinct drops nil entries and repeated IDs, keeping the first occurrence.
func distinct(evidence []*ledger.EvidenceItem) []*ledger.EvidenceItem {
	seen := make(map[string]struct{}, len(evidence))
	out := make([]*ledger.EvidenceItem, 0, len(evidence))
	for _, e := range evidence {
		if e == nil {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
