package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireMirrored asserts that every link of every stored evidence item is mirrored on the
// promise side and vice versa.
func requireMirrored(t *testing.T, client *Client) {
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
			require.Contains(t, back, eid)
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
			require.Contains(t, forward, pid)
		}
	}
}

func TestApplyLinks(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"P1", "P2", "P3"} {
		require.NoError(t, client.PutPromise(ctx, newPromise(id)))
	}

	t.Run("links both sides and marks processed", func(t *testing.T) {
		e := newEvidence("Bill C-5 second reading")
		require.NoError(t, client.CreateEvidence(ctx, e))

		change, err := client.ApplyLinks(ctx, e.ID, []string{"P2", "P1", "P2"}, at)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusProcessed, change.Status)
		assert.Equal(t, []string{"P1", "P2"}, change.Added)
		assert.Empty(t, change.Removed)

		got, err := client.GetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusProcessed, got.LinkingStatus)
		assert.Equal(t, []string{"P1", "P2"}, got.PromiseIDs)
		require.NotNil(t, got.LastProcessedAt)
		assert.Equal(t, at, *got.LastProcessedAt)
		assert.NoError(t, got.Validate())

		processed, err := client.EvidenceIDsByStatus(ctx, LinkingStatusProcessed)
		require.NoError(t, err)
		assert.Contains(t, processed, e.ID)
		pending, err := client.EvidenceIDsByStatus(ctx, LinkingStatusPending)
		require.NoError(t, err)
		assert.NotContains(t, pending, e.ID)

		requireMirrored(t, client)
	})

	t.Run("empty accepted set marks no_matches", func(t *testing.T) {
		e := newEvidence("Unrelated gazette notice")
		require.NoError(t, client.CreateEvidence(ctx, e))

		change, err := client.ApplyLinks(ctx, e.ID, nil, at)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusNoMatches, change.Status)
		assert.Empty(t, change.Affected())

		got, err := client.GetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusNoMatches, got.LinkingStatus)
		assert.Empty(t, got.PromiseIDs)
	})

	t.Run("relinking drops promises that are no longer accepted", func(t *testing.T) {
		e := newEvidence("Relinked item")
		require.NoError(t, client.CreateEvidence(ctx, e))

		_, err := client.ApplyLinks(ctx, e.ID, []string{"P1", "P2"}, at)
		require.NoError(t, err)
		_, err = client.ResetEvidence(ctx, e.ID)
		require.NoError(t, err)

		change, err := client.ApplyLinks(ctx, e.ID, []string{"P2", "P3"}, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{"P3"}, change.Added)
		assert.Equal(t, []string{"P1"}, change.Removed)
		assert.Equal(t, []string{"P2"}, change.Kept)
		assert.Equal(t, []string{"P3", "P1"}, change.Affected())

		p1, err := client.PromiseEvidenceIDs(ctx, "P1")
		require.NoError(t, err)
		assert.NotContains(t, p1, e.ID)

		p3, err := client.PromiseEvidenceIDs(ctx, "P3")
		require.NoError(t, err)
		assert.Contains(t, p3, e.ID)

		requireMirrored(t, client)
	})

	t.Run("clears a previous error", func(t *testing.T) {
		e := newEvidence("Errored then linked")
		require.NoError(t, client.CreateEvidence(ctx, e))
		require.NoError(t, client.MarkError(ctx, e.ID, "oracle timed out", at))

		_, err := client.ApplyLinks(ctx, e.ID, []string{"P1"}, at)
		require.NoError(t, err)

		got, err := client.GetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastError)
		assert.Equal(t, LinkingStatusProcessed, got.LinkingStatus)
	})

	t.Run("missing evidence returns redis.Nil", func(t *testing.T) {
		_, err := client.ApplyLinks(ctx, "00000000-0000-0000-0000-000000000000", []string{"P1"}, at)
		assert.True(t, IsNotFound(err))
	})
}

// TestApplyLinksConcurrentSamePromise verifies that concurrent linkers targeting the same
// promise never lose each other's back-references.
func TestApplyLinksConcurrentSamePromise(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.PutPromise(ctx, newPromise("P1")))

	const n = 20
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		e := newEvidence(fmt.Sprintf("Concurrent evidence %d", i))
		require.NoError(t, client.CreateEvidence(ctx, e))
		ids[i] = e.ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := client.ApplyLinks(ctx, id, []string{"P1"}, time.Now())
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	linked, err := client.PromiseEvidenceIDs(ctx, "P1")
	require.NoError(t, err)
	assert.Len(t, linked, n)
	requireMirrored(t, client)
}

func TestMarkError(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, client.PutPromise(ctx, newPromise("P1")))

	t.Run("keeps existing links", func(t *testing.T) {
		e := newEvidence("Linked then failed")
		require.NoError(t, client.CreateEvidence(ctx, e))
		_, err := client.ApplyLinks(ctx, e.ID, []string{"P1"}, at)
		require.NoError(t, err)

		require.NoError(t, client.MarkError(ctx, e.ID, "malformed oracle response", at.Add(time.Hour)))

		got, err := client.GetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusError, got.LinkingStatus)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "malformed oracle response", *got.LastError)
		assert.Equal(t, []string{"P1"}, got.PromiseIDs)

		errored, err := client.EvidenceIDsByStatus(ctx, LinkingStatusError)
		require.NoError(t, err)
		assert.Equal(t, []string{e.ID}, errored)
	})

	t.Run("missing evidence returns redis.Nil", func(t *testing.T) {
		err := client.MarkError(ctx, "missing", "x", at)
		assert.True(t, IsNotFound(err))
	})
}

func TestResetEvidence(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	e := newEvidence("Reset me")
	require.NoError(t, client.CreateEvidence(ctx, e))

	t.Run("pending item is a no-op", func(t *testing.T) {
		changed, err := client.ResetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("errored item returns to pending", func(t *testing.T) {
		require.NoError(t, client.MarkError(ctx, e.ID, "boom", time.Now()))

		changed, err := client.ResetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, changed)

		got, err := client.GetEvidence(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, LinkingStatusPending, got.LinkingStatus)
		assert.Nil(t, got.LastError)

		pending, err := client.EvidenceIDsByStatus(ctx, LinkingStatusPending)
		require.NoError(t, err)
		assert.Equal(t, []string{e.ID}, pending)
	})

	t.Run("missing item returns redis.Nil", func(t *testing.T) {
		_, err := client.ResetEvidence(ctx, "missing")
		assert.True(t, IsNotFound(err))
	})
}
