package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	seq int64
}

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", Sequence: 7})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)
	assert.Equal(t, int64(7), cursor.Sequence)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64")
	assert.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestBuildCursorPageInfo(t *testing.T) {
	extract := func(r *row) string {
		token, _ := EncodeCursor(Cursor{Sequence: r.seq})
		return token
	}

	t.Run("empty", func(t *testing.T) {
		info := BuildCursorPageInfo([]*row{}, 2, extract)
		assert.False(t, info.HasMore)
		assert.Empty(t, info.NextPageToken)
	})

	t.Run("last page", func(t *testing.T) {
		info := BuildCursorPageInfo([]*row{{seq: 3}, {seq: 2}}, 2, extract)
		assert.False(t, info.HasMore)
		assert.Empty(t, info.NextPageToken)
	})

	t.Run("more pages", func(t *testing.T) {
		info := BuildCursorPageInfo([]*row{{seq: 5}, {seq: 4}, {seq: 3}}, 2, extract)
		assert.True(t, info.HasMore)
		cursor, err := DecodeCursor(info.NextPageToken)
		require.NoError(t, err)
		assert.Equal(t, int64(4), cursor.Sequence)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Normalize().PageSize)
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Normalize().PageSize)
	assert.Equal(t, 5, Pagination{PageSize: 5}.Normalize().PageSize)
}
