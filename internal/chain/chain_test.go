package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for n := uint64(1); n <= 5; n++ {
		h.Add(Block{Number: n})
	}
	assert.Equal(t, 3, h.Len())
	_, ok := h.Get(2)
	assert.False(t, ok)
	b, ok := h.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint64(5), b.Number)

	// re-adding a retained block does not grow the history
	h.Add(Block{Number: 4})
	assert.Equal(t, 3, h.Len())
}

func TestManualSource(t *testing.T) {
	ctx := context.Background()
	m := NewManual(1, 10)

	m.Record(Block{Number: 1})
	require.NoError(t, m.Finalize(ctx, Block{Number: 2}))

	got := <-m.Finalized()
	assert.Equal(t, uint64(2), got.Number)

	missed, err := m.Block(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), missed.Number)

	_, err = m.Block(ctx, 9)
	assert.ErrorIs(t, err, ErrBlockNotFound)

	m.Close()
	_, open := <-m.Finalized()
	assert.False(t, open)
}

func TestManualFinalizeHonoursContext(t *testing.T) {
	m := NewManual(0, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Finalize(ctx, Block{Number: 1}), context.Canceled)
}
