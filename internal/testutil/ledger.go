package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// TestInstance is the instance name used by in-process test stores.
const TestInstance = "test-instance"

// NewLedger creates a ledger client backed by a fresh miniredis server.
// Both are closed automatically when the test finishes.
func NewLedger(t *testing.T) (*ledger.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := ledger.NewClient(&redis.Options{Addr: mr.Addr()}, TestInstance)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

// Evidence builds a valid pending bill-event evidence item with a deterministic ID.
func Evidence(title, description string) *ledger.EvidenceItem {
	return EvidenceOfType(ledger.SourceTypeBillEvent, title, description, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

// EvidenceOfType builds a valid pending evidence item of the given source type and date.
func EvidenceOfType(sourceType ledger.SourceType, title, description string, eventDate time.Time) *ledger.EvidenceItem {
	url := fmt.Sprintf("https://example.gc.ca/%s/%d", sourceType, eventDate.Unix())
	return &ledger.EvidenceItem{
		ID:            ledger.EvidenceID(sourceType, eventDate, title, description, url),
		SourceType:    sourceType,
		Title:         title,
		Description:   description,
		SourceURL:     url,
		EventDate:     eventDate,
		IngestedAt:    eventDate.Add(time.Hour),
		LinkingStatus: ledger.LinkingStatusPending,
	}
}

// Promise builds a valid promise for the LPC party.
func Promise(id, text string) *ledger.Promise {
	return &ledger.Promise{
		ID:         id,
		PartyCode:  "LPC",
		Text:       text,
		Category:   "Justice",
		DateIssued: time.Date(2021, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SeedEvidence stores evidence items, failing the test on error.
func SeedEvidence(t *testing.T, client *ledger.Client, items ...*ledger.EvidenceItem) {
	t.Helper()
	for _, item := range items {
		require.NoError(t, client.CreateEvidence(context.Background(), item))
	}
}

// SeedPromises stores promises, failing the test on error.
func SeedPromises(t *testing.T, client *ledger.Client, promises ...*ledger.Promise) {
	t.Helper()
	for _, p := range promises {
		require.NoError(t, client.PutPromise(context.Background(), p))
	}
}

// RequireBidirectional asserts that the evidence and promise sides of the relation agree for
// every stored evidence item and promise.
func RequireBidirectional(t *testing.T, client *ledger.Client) {
	t.Helper()
	ctx := context.Background()

	evidenceIDs, err := client.EvidenceIDs(ctx)
	require.NoError(t, err)
	for _, eid := range evidenceIDs {
		promiseIDs, err := client.EvidencePromiseIDs(ctx, eid)
		require.NoError(t, err)
		for _, pid := range promiseIDs {
			back, err := client.PromiseEvidenceIDs(ctx, pid)
			require.NoError(t, err)
			require.Contains(t, back, eid, "promise %s is missing back-reference to evidence %s", pid, eid)
		}
	}

	promiseIDs, err := client.PromiseIDs(ctx)
	require.NoError(t, err)
	for _, pid := range promiseIDs {
		linked, err := client.PromiseEvidenceIDs(ctx, pid)
		require.NoError(t, err)
		for _, eid := range linked {
			forward, err := client.EvidencePromiseIDs(ctx, eid)
			require.NoError(t, err)
			require.Contains(t, forward, pid, "evidence %s does not reference promise %s", eid, pid)
		}
	}
}
