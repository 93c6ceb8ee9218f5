//go:build property
// +build property

package prefilter_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// vocabulary keeps generated texts small enough to overlap often.
var vocabulary = []string{
	"housing", "transit", "firearm", "tax", "credit", "clean", "energy", "climate", "health",
	"dental", "care", "childcare", "border", "trade", "defence", "veterans", "indigenous",
}

func wordsGen() gopter.Gen {
	return gen.SliceOf(gen.IntRange(0, len(vocabulary)-1)).Map(func(idx []int) string {
		words := make([]string, len(idx))
		for i, n := range idx {
			words[i] = vocabulary[n]
		}
		return strings.Join(words, " ")
	})
}

func corpusOf(texts []string) *prefilter.Corpus {
	promises := make([]*ledger.Promise, len(texts))
	for i, text := range texts {
		promises[i] = &ledger.Promise{ID: fmt.Sprintf("P%03d", i), PartyCode: "LPC", Text: text}
	}
	return prefilter.NewCorpus(promises, prefilter.Scope{})
}

// TestJaccardProperties verifies range and symmetry.
// Property: 0 <= J(a,b) == J(b,a) <= 1
func TestJaccardProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("similarity is symmetric and within [0,1]", prop.ForAll(
		func(a, b string) bool {
			ta, tb := prefilter.Tokenize(a), prefilter.Tokenize(b)
			ab, ba := prefilter.Jaccard(ta, tb), prefilter.Jaccard(tb, ta)
			return ab == ba && ab >= 0 && ab <= 1
		},
		wordsGen(),
		wordsGen(),
	))

	properties.Property("arbitrary text never panics and stays in range", prop.ForAll(
		func(a, b string) bool {
			j := prefilter.Jaccard(prefilter.Tokenize(a), prefilter.Tokenize(b))
			return j >= 0 && j <= 1
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestCandidateProperties verifies threshold monotonicity and the candidate cap.
func TestCandidateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("raising the threshold never adds candidates", prop.ForAll(
		func(texts []string, query string, low, high float64) bool {
			if low > high {
				low, high = high, low
			}
			corpus := corpusOf(texts)
			loose := corpus.Candidates(query, prefilter.Options{MaxCandidates: len(texts) + 1, MinSimilarity: low})
			strict := corpus.Candidates(query, prefilter.Options{MaxCandidates: len(texts) + 1, MinSimilarity: high})
			return len(strict) <= len(loose)
		},
		gen.SliceOf(wordsGen()),
		wordsGen(),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.Property("output never exceeds the cap and is sorted", prop.ForAll(
		func(texts []string, query string, limit int) bool {
			got := corpusOf(texts).Candidates(query, prefilter.Options{MaxCandidates: limit, MinSimilarity: 0.05})
			if len(got) > limit {
				return false
			}
			for i := 1; i < len(got); i++ {
				prev, cur := got[i-1], got[i]
				if prev.Similarity < cur.Similarity {
					return false
				}
				if prev.Similarity == cur.Similarity && prev.PromiseID > cur.PromiseID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(wordsGen()),
		wordsGen(),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
