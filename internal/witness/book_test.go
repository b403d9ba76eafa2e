package witness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookOpenIsIdempotent(t *testing.T) {
	f := newFixture(t, 1, 3)
	b := NewBook()

	r1, created, err := b.Open(f.request(1), f.set, 2)
	require.NoError(t, err)
	assert.True(t, created)

	r2, created, err := b.Open(f.request(1), f.set, 3)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, r1, r2)
	assert.Equal(t, 2, r2.Threshold(), "threshold is fixed at first open")
	assert.Equal(t, 1, b.Len())
}

func TestBookCloseMarksCompleted(t *testing.T) {
	f := newFixture(t, 1, 3)
	b := NewBook()
	_, _, err := b.Open(f.request(1), f.set, 2)
	require.NoError(t, err)

	b.Close(1)
	assert.Equal(t, 0, b.Len())
	assert.True(t, b.IsCompleted(1))

	_, _, err = b.Open(f.request(1), f.set, 2)
	assert.ErrorIs(t, err, ErrCompleted)
}

func TestBookAbandonAllowsReopen(t *testing.T) {
	f := newFixture(t, 1, 3)
	b := NewBook()
	_, _, err := b.Open(f.request(1), f.set, 2)
	require.NoError(t, err)

	b.Abandon(1)
	assert.Equal(t, 0, b.Len())
	assert.False(t, b.IsCompleted(1))
	_, ok := b.Get(1)
	assert.False(t, ok)

	_, created, err := b.Open(f.request(1), f.set, 2)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestBookPendingOrdered(t *testing.T) {
	f := newFixture(t, 1, 3)
	b := NewBook()
	for _, id := range []uint64{9, 3, 5} {
		_, _, err := b.Open(f.request(id), f.set, 2)
		require.NoError(t, err)
	}
	var ids []uint64
	for _, r := range b.Pending() {
		ids = append(ids, r.Request().RequestID)
	}
	assert.Equal(t, []uint64{3, 5, 9}, ids)
}

func TestCompletedCompacts(t *testing.T) {
	c := NewCompleted()
	assert.False(t, c.Contains(0))

	c.Mark(5)
	c.Mark(7)
	c.Mark(4)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains(7))
	assert.False(t, c.Contains(6))

	c.Mark(6)
	w, ok := c.Watermark()
	require.True(t, ok)
	assert.Equal(t, uint64(7), w)
	assert.Equal(t, 0, c.Len())
	for id := uint64(4); id <= 7; id++ {
		assert.True(t, c.Contains(id))
	}
	assert.False(t, c.Contains(3))
	assert.False(t, c.Contains(8))
}
