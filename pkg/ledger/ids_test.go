package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceID(t *testing.T) {
	date := time.Date(2024, 2, 7, 15, 30, 0, 0, time.UTC)

	t.Run("is a version 5 UUID", func(t *testing.T) {
		id := EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Second reading", "https://parl.ca/c-5")

		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(5), parsed.Version())
	})

	t.Run("is stable across calls", func(t *testing.T) {
		a := EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Second reading", "https://parl.ca/c-5")
		b := EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Second reading", "https://parl.ca/c-5")
		assert.Equal(t, a, b)
	})

	t.Run("ignores time of day and surrounding whitespace", func(t *testing.T) {
		a := EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Second reading", "https://parl.ca/c-5")
		b := EvidenceID(SourceTypeBillEvent, date.Add(-10*time.Hour), "  Bill C-5\n", "Second reading ", "https://parl.ca/c-5")
		assert.Equal(t, a, b)
	})

	t.Run("differs by source type, date and content", func(t *testing.T) {
		base := EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Second reading", "https://parl.ca/c-5")

		assert.NotEqual(t, base, EvidenceID(SourceTypeNewsRelease, date, "Bill C-5", "Second reading", "https://parl.ca/c-5"))
		assert.NotEqual(t, base, EvidenceID(SourceTypeBillEvent, date.AddDate(0, 0, 1), "Bill C-5", "Second reading", "https://parl.ca/c-5"))
		assert.NotEqual(t, base, EvidenceID(SourceTypeBillEvent, date, "Bill C-5", "Third reading", "https://parl.ca/c-5"))
	})
}
