// Package decision turns oracle judgments into accept/reject link decisions. It is pure: the
// same candidates, judgments and threshold always produce the same ordered outcome.
package decision

import (
	"sort"

	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/prefilter"
)

// DefaultMinConfidence is the acceptance threshold applied when none is configured.
const DefaultMinConfidence = 0.7

// Bucket confidences, applied before the threshold.
const (
	StrongConfidence = 1.0
	MediumConfidence = 0.6
	WeakConfidence   = 0.2
)

// NoJudgmentRationale is recorded for candidates the oracle did not judge.
const NoJudgmentRationale = "no judgment returned"

// LinkDecision is the verdict on one (evidence, candidate promise) pair.
type LinkDecision struct {
	EvidenceID string  `json:"evidence_id"`
	PromiseID  string  `json:"promise_id"`
	Confidence float64 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
	Rationale  string  `json:"rationale"`
	Similarity float64 `json:"similarity"`
}

// Outcome is the full decision set for one evidence item.
type Outcome struct {
	Decisions []LinkDecision // Every candidate, confidence desc then promise ID asc
	Accepted  []string       // Accepted promise IDs, in decision order
}

// Engine applies the acceptance threshold.
type Engine struct {
	minConfidence float64
}

// NewEngine creates an engine with the given threshold, clamped into [0, 1]. A threshold of 0
// accepts every judged candidate. Callers validate configured thresholds before this point.
func NewEngine(minConfidence float64) *Engine {
	return &Engine{minConfidence: clamp(minConfidence)}
}

// MinConfidence returns the acceptance threshold.
func (e *Engine) MinConfidence() float64 {
	return e.minConfidence
}

// Decide produces one decision per candidate. Judgments for promises that were not offered are
// discarded, duplicate judgments keep the first, and candidates without a judgment are rejected.
// There is no cap on accepted links.
func (e *Engine) Decide(evidenceID string, candidates []prefilter.Candidate, judgments []oracle.Judgment) Outcome {
	byPromise := make(map[string]oracle.Judgment, len(judgments))
	for _, j := range judgments {
		if _, dup := byPromise[j.PromiseID]; dup {
			continue
		}
		byPromise[j.PromiseID] = j
	}

	outcome := Outcome{
		Decisions: make([]LinkDecision, 0, len(candidates)),
		Accepted:  []string{},
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.PromiseID]; dup {
			continue
		}
		seen[c.PromiseID] = struct{}{}

		d := LinkDecision{
			EvidenceID: evidenceID,
			PromiseID:  c.PromiseID,
			Similarity: c.Similarity,
			Rationale:  NoJudgmentRationale,
		}

		if j, ok := byPromise[c.PromiseID]; ok {
			d.Confidence = Confidence(j)
			d.Rationale = j.Rationale
			d.Accepted = d.Confidence >= e.minConfidence
		}

		outcome.Decisions = append(outcome.Decisions, d)
	}

	sort.SliceStable(outcome.Decisions, func(i, k int) bool {
		a, b := outcome.Decisions[i], outcome.Decisions[k]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.PromiseID < b.PromiseID
	})

	for _, d := range outcome.Decisions {
		if d.Accepted {
			outcome.Accepted = append(outcome.Accepted, d.PromiseID)
		}
	}

	return outcome
}

// Confidence maps a judgment's relevance signal onto [0, 1].
// An explicit relevant=false always wins; otherwise a numeric confidence is used as is, then a
// bucket label, and a bare relevant=true counts as full confidence.
func Confidence(j oracle.Judgment) float64 {
	if j.Relevant != nil && !*j.Relevant {
		return 0
	}

	if j.Confidence != nil {
		return clamp(*j.Confidence)
	}

	switch j.Bucket {
	case oracle.BucketStrong:
		return StrongConfidence
	case oracle.BucketMedium:
		return MediumConfidence
	case oracle.BucketWeak:
		return WeakConfidence
	}

	if j.Relevant != nil && *j.Relevant {
		return 1.0
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
