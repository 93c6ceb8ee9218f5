package prefilter

import (
	"sort"

	"github.com/dyluth/pledge/pkg/ledger"
)

const (
	// DefaultMaxCandidates caps the candidate list handed to the oracle.
	DefaultMaxCandidates = 50

	// DefaultMinSimilarity is the lowest Jaccard similarity kept as a candidate.
	DefaultMinSimilarity = 0.1
)

// Options controls candidate selection.
type Options struct {
	MaxCandidates int     // <= 0 means DefaultMaxCandidates
	MinSimilarity float64 // Inclusive lower bound
}

// DefaultOptions returns the standard candidate selection options.
func DefaultOptions() Options {
	return Options{MaxCandidates: DefaultMaxCandidates, MinSimilarity: DefaultMinSimilarity}
}

// Scope restricts which promises enter the corpus. Zero values mean "no restriction".
type Scope struct {
	PartyCodes        []string
	MaxRank           int // Keep only ranked promises with rank <= MaxRank
	ParliamentSession string
}

// Matches reports whether a promise falls inside the scope.
func (s Scope) Matches(p *ledger.Promise) bool {
	if len(s.PartyCodes) > 0 {
		found := false
		for _, code := range s.PartyCodes {
			if code == p.PartyCode {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if s.MaxRank > 0 && (p.Rank == nil || *p.Rank > s.MaxRank) {
		return false
	}

	if s.ParliamentSession != "" && (p.ParliamentSession == nil || *p.ParliamentSession != s.ParliamentSession) {
		return false
	}

	return true
}

// Candidate is a promise that passed the lexical prefilter.
type Candidate struct {
	PromiseID  string
	Text       string
	Similarity float64
}

type entry struct {
	id     string
	text   string
	tokens TokenSet
}

// Corpus is the tokenized promise corpus for one run. Read-only after construction, so one
// Corpus may be shared by every worker.
type Corpus struct {
	entries []entry
}

// NewCorpus tokenizes the promises that fall inside scope.
func NewCorpus(promises []*ledger.Promise, scope Scope) *Corpus {
	c := &Corpus{entries: make([]entry, 0, len(promises))}
	for _, p := range promises {
		if p == nil || !scope.Matches(p) {
			continue
		}
		c.entries = append(c.entries, entry{id: p.ID, text: p.Text, tokens: Tokenize(p.Text)})
	}
	return c
}

// Len returns the number of promises in the corpus.
func (c *Corpus) Len() int {
	return len(c.entries)
}

// Candidates returns the promises whose similarity to text is at least opts.MinSimilarity,
// ordered by similarity descending then promise ID ascending, truncated to opts.MaxCandidates.
// Text with no usable tokens yields no candidates.
func (c *Corpus) Candidates(text string, opts Options) []Candidate {
	limit := opts.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}

	tokens := Tokenize(text)
	if tokens.Len() == 0 {
		return []Candidate{}
	}

	candidates := make([]Candidate, 0)
	for _, e := range c.entries {
		similarity := Jaccard(tokens, e.tokens)
		if similarity <= 0 || similarity < opts.MinSimilarity {
			continue
		}
		candidates = append(candidates, Candidate{PromiseID: e.id, Text: e.text, Similarity: similarity})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].PromiseID < candidates[j].PromiseID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
