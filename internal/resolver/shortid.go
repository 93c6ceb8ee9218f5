// Package resolver expands short evidence ID prefixes typed by operators into full IDs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/google/uuid"
)

// MinShortIDLength is the minimum accepted prefix length.
const MinShortIDLength = 6

// maxListed bounds the matches shown in an ambiguity message.
const maxListed = 10

// ResolveEvidenceID returns the full evidence ID for id, which may be a full UUID or a
// unique prefix of at least MinShortIDLength characters. Full UUIDs are returned unchanged
// without a store lookup; a missing item is reported by the subsequent read.
func ResolveEvidenceID(ctx context.Context, client *ledger.Client, id string) (string, error) {
	if _, err := uuid.Parse(id); err == nil && len(id) == 36 {
		return strings.ToLower(id), nil
	}

	if len(id) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(id))
	}

	matches, err := client.EvidenceIDsWithPrefix(ctx, strings.ToLower(id))
	if err != nil {
		return "", fmt.Errorf("failed to search for evidence: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: id}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: id, Matches: matches}
	}
}

// NotFoundError indicates no evidence matched the prefix.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no evidence found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several evidence items matched the prefix.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d evidence items", e.ShortID, len(e.Matches))
}

// Describe lists the matches, up to ten, for an operator-facing message.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	for i, m := range e.Matches {
		if i == maxListed {
			fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-maxListed)
			break
		}
		fmt.Fprintf(&b, "  %s\n", m)
	}
	b.WriteString("\nUse a longer prefix to identify the item uniquely.")
	return b.String()
}
