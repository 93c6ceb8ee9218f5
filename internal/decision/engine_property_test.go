//go:build property
// +build property

package decision_test

import (
	"fmt"
	"testing"

	"github.com/dyluth/pledge/internal/decision"
	"github.com/dyluth/pledge/internal/oracle"
	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func build(confidences []float64) ([]prefilter.Candidate, []oracle.Judgment) {
	candidates := make([]prefilter.Candidate, len(confidences))
	judgments := make([]oracle.Judgment, len(confidences))
	for i, c := range confidences {
		id := fmt.Sprintf("P%03d", i)
		value := c
		candidates[i] = prefilter.Candidate{PromiseID: id, Similarity: 0.5}
		judgments[i] = oracle.Judgment{PromiseID: id, Confidence: &value, Rationale: "r"}
	}
	return candidates, judgments
}

// TestDecisionProperties verifies determinism and threshold monotonicity.
func TestDecisionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical inputs give identical accepted sets", prop.ForAll(
		func(confidences []float64, threshold float64) bool {
			candidates, judgments := build(confidences)
			engine := decision.NewEngine(threshold)
			a := engine.Decide("e", candidates, judgments)
			b := engine.Decide("e", candidates, judgments)
			return fmt.Sprint(a) == fmt.Sprint(b)
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.Float64Range(0.01, 1),
	))

	properties.Property("raising the threshold never accepts more", prop.ForAll(
		func(confidences []float64, low, high float64) bool {
			if low > high {
				low, high = high, low
			}
			candidates, judgments := build(confidences)
			loose := decision.NewEngine(low).Decide("e", candidates, judgments)
			strict := decision.NewEngine(high).Decide("e", candidates, judgments)
			return len(strict.Accepted) <= len(loose.Accepted)
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
		gen.Float64Range(0.01, 1),
		gen.Float64Range(0.01, 1),
	))

	properties.Property("every candidate gets exactly one decision", prop.ForAll(
		func(confidences []float64) bool {
			candidates, judgments := build(confidences)
			return len(decision.NewEngine(0.7).Decide("e", candidates, judgments).Decisions) == len(candidates)
		},
		gen.SliceOf(gen.Float64Range(0, 1)),
	))

	properties.TestingRun(t)
}
