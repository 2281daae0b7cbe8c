package pagination

import (
	"encoding/base64"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cases := []Cursor{
		{Score: 8, PublishedAt: time.Date(2025, 3, 28, 15, 0, 0, 0, time.UTC), ID: 42},
		{Score: 0.1 + 0.2, PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 1, time.UTC), ID: 1},
		{Score: -3.5e-12, PublishedAt: time.Unix(0, 0).UTC(), ID: math.MaxInt64},
		{Score: math.MaxFloat64, PublishedAt: time.Date(2030, 6, 15, 8, 30, 45, 999999999, time.UTC), ID: 0},
		{Score: math.Inf(-1), PublishedAt: time.Date(2025, 5, 5, 5, 5, 5, 5, time.UTC), ID: -7},
	}

	for _, want := range cases {
		got, err := DecodeCursor(want.Encode())
		require.NoError(t, err)
		require.Equal(t, want.Score, got.Score)
		require.True(t, want.PublishedAt.Equal(got.PublishedAt), "published_at %v != %v", want.PublishedAt, got.PublishedAt)
		require.Equal(t, want.ID, got.ID)
	}
}

func TestCursorNormalizesTimezone(t *testing.T) {
	local := time.Date(2025, 3, 28, 17, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	got, err := DecodeCursor(EncodeCursor(1, local, 5))
	require.NoError(t, err)
	require.Equal(t, time.UTC, got.PublishedAt.Location())
	require.True(t, local.Equal(got.PublishedAt))
}

func TestDecodeCursorMalformed(t *testing.T) {
	enc := func(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

	inputs := []string{
		"%%%not-base64",
		enc("8,2025-03-28T15:00:00Z"),
		enc("high,2025-03-28T15:00:00Z,1"),
		enc("NaN,2025-03-28T15:00:00Z,1"),
		enc("8,yesterday,1"),
		enc("8,2025-03-28T15:00:00Z,one"),
		enc("8,2025-03-28T15:00:00Z,1,extra"),
	}

	for _, in := range inputs {
		_, err := DecodeCursor(in)
		require.ErrorIs(t, err, ErrMalformedCursor, "input %q", in)
	}
}
