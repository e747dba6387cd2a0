package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE a = ?", "WHERE a = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, rebindDollar(tt.in))
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	c := encodeCursor("2024-01-01T00:00:00.000000Z", "dep-1")
	createdAt, id, err := decodeCursor(c)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", createdAt)
	assert.Equal(t, "dep-1", id)

	for _, bad := range []string{"!!", encodeCursor("", "x"), "bm9waXBl"} {
		_, _, err := decodeCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestNowSortsLexically(t *testing.T) {
	a := now()
	time.Sleep(time.Millisecond)
	b := now()
	assert.Len(t, a, len(timeLayout))
	assert.Less(t, a, b)
}
