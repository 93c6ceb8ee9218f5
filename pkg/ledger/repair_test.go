package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairBatch(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty batch is a no-op", func(t *testing.T) {
		client, _ := setupTestClient(t)
		results, err := client.NewRepairBatch().Exec(ctx)
		require.NoError(t, err)
		assert.Nil(t, results)
	})

	t.Run("restores a missing back-reference", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))
		e := newEvidence("Half-written link")
		require.NoError(t, client.CreateEvidence(ctx, e))
		_, err := client.ApplyLinks(ctx, e.ID, []string{"P1"}, at)
		require.NoError(t, err)

		// Simulate a partial write from an older writer
		require.NoError(t, client.rdb.SRem(ctx, PromiseEvidenceKey("test-instance", "P1"), e.ID).Err())

		batch := client.NewRepairBatch()
		batch.EnsureBackRef(e.ID, "P1")
		assert.Equal(t, 1, batch.Len())

		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].Changed)
		assert.Equal(t, RepairBackRef, results[0].Kind)
		assert.Equal(t, 0, batch.Len())

		requireMirrored(t, client)
	})

	t.Run("back-reference is not added once the evidence dropped the promise", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))
		e := newEvidence("Stale repair")
		require.NoError(t, client.CreateEvidence(ctx, e))

		batch := client.NewRepairBatch()
		batch.EnsureBackRef(e.ID, "P1")
		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		assert.False(t, results[0].Changed)

		linked, err := client.PromiseEvidenceIDs(ctx, "P1")
		require.NoError(t, err)
		assert.Empty(t, linked)
	})

	t.Run("re-indexes a promise whose hash exists", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))
		require.NoError(t, client.rdb.SRem(ctx, PromiseIndexKey("test-instance"), "P1").Err())

		exists, err := client.PromiseExists(ctx, "P1")
		require.NoError(t, err)
		assert.True(t, exists)

		batch := client.NewRepairBatch()
		batch.RestorePromiseIndex("P1")
		batch.RestorePromiseIndex("ghost")
		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[0].Changed)
		assert.Equal(t, RepairPromiseIndex, results[0].Kind)
		assert.False(t, results[1].Changed, "a missing hash is never indexed")

		ids, err := client.PromiseIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"P1"}, ids)
	})

	t.Run("drops a reference to a missing promise", func(t *testing.T) {
		client, _ := setupTestClient(t)
		e := newEvidence("Points at ghost")
		require.NoError(t, client.CreateEvidence(ctx, e))
		require.NoError(t, client.rdb.SAdd(ctx, EvidencePromisesKey("test-instance", e.ID), "ghost").Err())

		batch := client.NewRepairBatch()
		batch.DropDanglingRef(e.ID, "ghost")
		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		assert.True(t, results[0].Changed)

		links, err := client.EvidencePromiseIDs(ctx, e.ID)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("keeps a reference once the promise exists", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))
		e := newEvidence("Points at P1")
		require.NoError(t, client.CreateEvidence(ctx, e))
		_, err := client.ApplyLinks(ctx, e.ID, []string{"P1"}, at)
		require.NoError(t, err)

		batch := client.NewRepairBatch()
		batch.DropDanglingRef(e.ID, "P1")
		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		assert.False(t, results[0].Changed)
	})

	t.Run("removes orphaned promise references", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))
		linked := newEvidence("Really linked")
		unlinked := newEvidence("Not linked")
		require.NoError(t, client.CreateEvidence(ctx, linked))
		require.NoError(t, client.CreateEvidence(ctx, unlinked))
		_, err := client.ApplyLinks(ctx, linked.ID, []string{"P1"}, at)
		require.NoError(t, err)

		promiseLinks := PromiseEvidenceKey("test-instance", "P1")
		require.NoError(t, client.rdb.SAdd(ctx, promiseLinks, unlinked.ID, "deleted-evidence").Err())

		batch := client.NewRepairBatch()
		batch.RemoveOrphan("P1", linked.ID)
		batch.RemoveOrphan("P1", unlinked.ID)
		batch.RemoveOrphan("P1", "deleted-evidence")
		results, err := batch.Exec(ctx)
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.False(t, results[0].Changed)
		assert.True(t, results[1].Changed)
		assert.True(t, results[2].Changed)

		ids, err := client.PromiseEvidenceIDs(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, []string{linked.ID}, ids)
	})

	t.Run("restores status invariants", func(t *testing.T) {
		client, _ := setupTestClient(t)
		require.NoError(t, client.PutPromise(ctx, newPromise("P1")))

		processedNoLinks := newEvidence("Processed without links")
		noMatchesWithLinks := newEvidence("No matches with links")
		consistent := newEvidence("Consistent")
		for _, e := range []*EvidenceItem{processedNoLinks, noMatchesWithLinks, consistent} {
			require.NoError(t, client.CreateEvidence(ctx, e))
		}

		_, err := client.ApplyLinks(ctx, processedNoLinks.ID, []string{"P1"}, at)
		require.NoError(t, err)
		require.NoError(t, client.rdb.Del(ctx, EvidencePromisesKey("test-instance", processedNoLinks.ID)).Err())

		_, err = client.ApplyLinks(ctx, noMatchesWithLinks.ID, nil, at)
		require.NoError(t, err)
		require.NoError(t, client.rdb.SAdd(ctx, EvidencePromisesKey("test-instance", noMatchesWithLinks.ID), "P1").Err())

		_, err = client.ApplyLinks(ctx, consistent.ID, []string{"P1"}, at)
		require.NoError(t, err)

		batch := client.NewRepairBatch()
		batch.RepairStatus(processedNoLinks.ID)
		batch.RepairStatus(noMatchesWithLinks.ID)
		batch.RepairStatus(consistent.ID)
		results, err := batch.Exec(ctx)
		require.NoError(t, err)

		assert.True(t, results[0].Changed)
		assert.Equal(t, LinkingStatusPending, results[0].NewStatus)
		assert.True(t, results[1].Changed)
		assert.Equal(t, LinkingStatusProcessed, results[1].NewStatus)
		assert.False(t, results[2].Changed)

		pending, err := client.EvidenceIDsByStatus(ctx, LinkingStatusPending)
		require.NoError(t, err)
		assert.Equal(t, []string{processedNoLinks.ID}, pending)

		processed, err := client.EvidenceIDsByStatus(ctx, LinkingStatusProcessed)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{noMatchesWithLinks.ID, consistent.ID}, processed)
	})
}
