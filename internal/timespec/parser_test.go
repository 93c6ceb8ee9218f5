package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    time.Time
		wantErr bool
	}{
		{name: "duration", spec: "24h", want: now.Add(-24 * time.Hour)},
		{name: "compound duration", spec: "1h30m", want: now.Add(-90 * time.Minute)},
		{name: "rfc3339", spec: "2024-03-01T09:30:00Z", want: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
		{name: "rfc3339 with offset", spec: "2024-03-01T09:30:00-05:00", want: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{name: "date", spec: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "empty", spec: "", wantErr: true},
		{name: "garbage", spec: "last tuesday", wantErr: true},
		{name: "negative duration", spec: "-1h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2024-01-01", "2024-03-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), since)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, since.IsZero())
	assert.True(t, until.IsZero())

	_, _, err = ParseRange("2024-04-01", "2024-03-01", now)
	assert.ErrorContains(t, err, "--since must not be after --until")

	_, _, err = ParseRange("bogus", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "bogus", now)
	assert.ErrorContains(t, err, "invalid --until")
}
