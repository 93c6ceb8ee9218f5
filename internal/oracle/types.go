package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/pledge/internal/prefilter"
	"github.com/dyluth/pledge/pkg/ledger"
)

// Candidate is one promise offered to the oracle.
type Candidate struct {
	PromiseID string
	Text      string
}

// Request is everything sent to the oracle for one evidence item.
type Request struct {
	EvidenceID  string
	Title       string
	Description string
	SourceType  ledger.SourceType
	EventDate   time.Time
	Candidates  []Candidate
}

// NewRequest builds an oracle request from an evidence item and its prefiltered candidates.
func NewRequest(e *ledger.EvidenceItem, candidates []prefilter.Candidate) Request {
	req := Request{
		EvidenceID:  e.ID,
		Title:       e.Title,
		Description: e.Description,
		SourceType:  e.SourceType,
		EventDate:   e.EventDate,
		Candidates:  make([]Candidate, len(candidates)),
	}
	for i, c := range candidates {
		req.Candidates[i] = Candidate{PromiseID: c.PromiseID, Text: c.Text}
	}
	return req
}

// Bucket is a coarse confidence label the oracle may return instead of a number.
type Bucket string

const (
	BucketStrong Bucket = "strong"
	BucketMedium Bucket = "medium"
	BucketWeak   Bucket = "weak"
)

// Judgment is the oracle's verdict on one candidate. At least one of Relevant, Confidence or
// Bucket is set; the decision engine maps them to a single confidence value.
type Judgment struct {
	PromiseID  string   `json:"promise_id"`
	Relevant   *bool    `json:"relevant,omitempty"`
	Confidence *float64 `json:"-"`
	Bucket     Bucket   `json:"-"`
	Rationale  string   `json:"rationale"`
}

type rawJudgment struct {
	PromiseID  string          `json:"promise_id"`
	Relevant   *bool           `json:"relevant"`
	Confidence json.RawMessage `json:"confidence"`
	Rationale  string          `json:"rationale"`
}

// UnmarshalJSON accepts a confidence that is either a number or a bucket label.
func (j *Judgment) UnmarshalJSON(data []byte) error {
	var raw rawJudgment
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*j = Judgment{PromiseID: raw.PromiseID, Relevant: raw.Relevant, Rationale: raw.Rationale}

	confidence := bytes.TrimSpace(raw.Confidence)
	if len(confidence) == 0 || bytes.Equal(confidence, []byte("null")) {
		return nil
	}

	if confidence[0] == '"' {
		var label string
		if err := json.Unmarshal(confidence, &label); err != nil {
			return err
		}
		j.Bucket = Bucket(label)
		return nil
	}

	var value float64
	if err := json.Unmarshal(confidence, &value); err != nil {
		return fmt.Errorf("confidence must be a number or a bucket label: %w", err)
	}
	j.Confidence = &value
	return nil
}

// MarshalJSON writes the judgment in the wire shape.
func (j Judgment) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"promise_id": j.PromiseID,
		"rationale":  j.Rationale,
	}
	if j.Relevant != nil {
		out["relevant"] = *j.Relevant
	}
	if j.Confidence != nil {
		out["confidence"] = *j.Confidence
	} else if j.Bucket != "" {
		out["confidence"] = string(j.Bucket)
	}
	return json.Marshal(out)
}
