package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/pledge/internal/filter"
	"github.com/dyluth/pledge/internal/testutil"
	"github.com/dyluth/pledge/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) (*ledger.Client, []*ledger.EvidenceItem) {
	t.Helper()
	client, _ := testutil.NewLedger(t)
	ctx := context.Background()

	testutil.SeedPromises(t, client, testutil.Promise("P-mms", "Repeal mandatory minimum penalties"))

	march := testutil.EvidenceOfType(ledger.SourceTypeBillEvent, "Bill C-5 royal assent", "", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	jan := testutil.EvidenceOfType(ledger.SourceTypeNewsRelease, "Minister announces review of sentencing", "", time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC))
	may := testutil.EvidenceOfType(ledger.SourceTypeGazetteNotice, "Canada Gazette Part II: firearms regulations amended", "", time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))
	testutil.SeedEvidence(t, client, march, jan, may)

	_, err := client.ApplyLinks(ctx, march.ID, []string{"P-mms"}, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, client.MarkError(ctx, may.ID, "oracle timeout", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))

	return client, []*ledger.EvidenceItem{jan, march, may}
}

func TestListEvidence(t *testing.T) {
	client, items := seeded(t)
	ctx := context.Background()

	t.Run("table lists everything by date", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ListEvidence(ctx, client, ListQuery{}, OutputFormatTable, &buf))

		out := buf.String()
		assert.Contains(t, out, "Evidence for instance 'test-instance'")
		assert.Contains(t, out, "3 items found")
		assert.Less(t, strings.Index(out, items[0].ID[:8]), strings.Index(out, items[1].ID[:8]))
		assert.Less(t, strings.Index(out, items[1].ID[:8]), strings.Index(out, items[2].ID[:8]))
		assert.Contains(t, out, "Canada Gazette Part II: firearms regu...")
	})

	t.Run("jsonl filtered by status", func(t *testing.T) {
		var buf bytes.Buffer
		q := ListQuery{Statuses: []ledger.LinkingStatus{ledger.LinkingStatusProcessed, ledger.LinkingStatusError}}
		require.NoError(t, ListEvidence(ctx, client, q, OutputFormatJSONL, &buf))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)

		var first ledger.EvidenceItem
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, items[1].ID, first.ID)
		assert.Equal(t, []string{"P-mms"}, first.PromiseIDs)

		var second ledger.EvidenceItem
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
		assert.Equal(t, ledger.LinkingStatusError, second.LinkingStatus)
		require.NotNil(t, second.LastError)
		assert.Equal(t, "oracle timeout", *second.LastError)
	})

	t.Run("criteria and limit", func(t *testing.T) {
		var buf bytes.Buffer
		q := ListQuery{
			Criteria: filter.Criteria{Since: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
			Limit:    1,
		}
		require.NoError(t, ListEvidence(ctx, client, q, OutputFormatTable, &buf))
		assert.Contains(t, buf.String(), "1 item found")
		assert.Contains(t, buf.String(), items[1].ID[:8])
	})

	t.Run("empty result", func(t *testing.T) {
		var buf bytes.Buffer
		q := ListQuery{Statuses: []ledger.LinkingStatus{ledger.LinkingStatusNoMatches}}
		require.NoError(t, ListEvidence(ctx, client, q, OutputFormatTable, &buf))
		assert.Equal(t, "No evidence found for instance 'test-instance'\n", buf.String())
	})

	t.Run("invalid status", func(t *testing.T) {
		q := ListQuery{Statuses: []ledger.LinkingStatus{"archived"}}
		assert.Error(t, ListEvidence(ctx, client, q, OutputFormatTable, &bytes.Buffer{}))
	})
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatTable, f)

	f, err = ParseOutputFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseOutputFormat("yaml")
	assert.Error(t, err)
}

func TestGetEvidence(t *testing.T) {
	client, items := seeded(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, GetEvidence(ctx, client, items[1].ID, &buf))

	var got ledger.EvidenceItem
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, items[1].Title, got.Title)
	assert.Equal(t, ledger.LinkingStatusProcessed, got.LinkingStatus)

	err := GetEvidence(ctx, client, "00000000-0000-5000-8000-000000000000", &buf)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "evidence with ID")

	err = GetEvidence(ctx, client, "not-a-uuid", &buf)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestGetPromise(t *testing.T) {
	client, items := seeded(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, GetPromise(ctx, client, "P-mms", time.Now(), &buf))

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "P-mms", got["id"])
	assert.Equal(t, []interface{}{items[1].ID}, got["linked_evidence_ids"])
	assert.Equal(t, "never", got["scored_age"])

	err := GetPromise(ctx, client, "P-ghost", time.Now(), &buf)
	assert.True(t, IsNotFound(err))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }

	assert.Equal(t, "never", formatAge(nil, now))
	assert.Equal(t, "30s ago", formatAge(at(30*time.Second), now))
	assert.Equal(t, "5m ago", formatAge(at(5*time.Minute), now))
	assert.Equal(t, "3h ago", formatAge(at(3*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(at(49*time.Hour), now))
}
