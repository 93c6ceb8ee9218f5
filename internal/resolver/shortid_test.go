package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dyluth/pledge/internal/testutil"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEvidenceID(t *testing.T) {
	client, mr := testutil.NewLedger(t)
	ctx := context.Background()

	item := testutil.Evidence("Bill C-5 royal assent", "")
	testutil.SeedEvidence(t, client, item)

	t.Run("full UUID passes through", func(t *testing.T) {
		id, err := ResolveEvidenceID(ctx, client, strings.ToUpper(item.ID))
		require.NoError(t, err)
		assert.Equal(t, item.ID, id)
	})

	t.Run("unique prefix", func(t *testing.T) {
		id, err := ResolveEvidenceID(ctx, client, item.ID[:8])
		require.NoError(t, err)
		assert.Equal(t, item.ID, id)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := ResolveEvidenceID(ctx, client, item.ID[:4])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least 6 characters")
	})

	t.Run("no match", func(t *testing.T) {
		_, err := ResolveEvidenceID(ctx, client, "zzzzzzzz")
		var nf *NotFoundError
		require.True(t, errors.As(err, &nf))
	})

	t.Run("glob characters are rejected", func(t *testing.T) {
		_, err := ResolveEvidenceID(ctx, client, "abcdef*")
		require.Error(t, err)
	})

	t.Run("ambiguous", func(t *testing.T) {
		index := ledger.EvidenceIndexKey(testutil.TestInstance)
		for i := 0; i < 12; i++ {
			_, err := mr.SAdd(index, fmt.Sprintf("abcdef%02d-0000-5000-8000-000000000000", i))
			require.NoError(t, err)
		}

		_, err := ResolveEvidenceID(ctx, client, "abcdef")
		var amb *AmbiguousError
		require.True(t, errors.As(err, &amb))
		assert.Len(t, amb.Matches, 12)
		assert.Equal(t, "abcdef00-0000-5000-8000-000000000000", amb.Matches[0])

		desc := amb.Describe()
		assert.Contains(t, desc, "...and 2 more")
		assert.Equal(t, 10, strings.Count(desc, "-0000-5000-"))
	})
}
