package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/google/uuid"
)

// NotFoundError reports a missing evidence item or promise.
type NotFoundError struct {
	Kind string // "evidence" or "promise"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID '%s' not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// GetEvidence writes one evidence item as pretty JSON.
func GetEvidence(ctx context.Context, client *ledger.Client, evidenceID string, w io.Writer) error {
	if _, err := uuid.Parse(evidenceID); err != nil {
		return fmt.Errorf("invalid evidence ID format: must be a valid UUID")
	}

	item, err := client.GetEvidence(ctx, evidenceID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return &NotFoundError{Kind: "evidence", ID: evidenceID}
		}
		return fmt.Errorf("failed to fetch evidence: %w", err)
	}
	return FormatJSON(w, item)
}

// PromiseView is a promise with a human-readable scoring age.
type PromiseView struct {
	*ledger.Promise
	ScoredAge string `json:"scored_age"`
}

// GetPromise writes one promise, including its linked evidence and progress, as pretty JSON.
func GetPromise(ctx context.Context, client *ledger.Client, promiseID string, now time.Time, w io.Writer) error {
	promise, err := client.GetPromise(ctx, promiseID)
	if err != nil {
		if ledger.IsNotFound(err) {
			return &NotFoundError{Kind: "promise", ID: promiseID}
		}
		return fmt.Errorf("failed to fetch promise: %w", err)
	}
	return FormatJSON(w, PromiseView{Promise: promise, ScoredAge: formatAge(promise.LastScoredAt, now)})
}
