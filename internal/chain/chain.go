// Package chain describes the finality source the worker consumes: an
// ordered stream of finalized host chain blocks carrying witness requests
// and validator set changes.
package chain

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"proofnet/internal/types"
)

// ErrBlockNotFound is returned when a block is outside the retained history.
var ErrBlockNotFound = errors.New("chain: block not found")

// Block is a finalized host chain block as seen by the gadget.
type Block struct {
	Number   uint64
	Hash     common.Hash
	Requests []types.WitnessRequest
	// ValidatorSet is set when the block activates a new authority set.
	ValidatorSet *types.ValidatorSet
}

// Source delivers finalized blocks in increasing number order. Deliveries
// may skip numbers; consumers recover the gap through Block.
type Source interface {
	Finalized() <-chan Block
	Block(ctx context.Context, number uint64) (Block, error)
}

// History keeps the most recent finalized blocks by number.
type History struct {
	mu     sync.RWMutex
	limit  int
	blocks map[uint64]Block
	order  []uint64
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit, blocks: make(map[uint64]Block, limit)}
}

// Add records b, evicting the oldest block once the limit is reached.
func (h *History) Add(b Block) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocks[b.Number]; !ok {
		h.order = append(h.order, b.Number)
	}
	h.blocks[b.Number] = b
	for len(h.order) > h.limit {
		delete(h.blocks, h.order[0])
		h.order = h.order[1:]
	}
}

func (h *History) Get(number uint64) (Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.blocks[number]
	return b, ok
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.order)
}

// Manual is a Source driven by explicit calls. Used by tests and by
// single process setups that produce blocks themselves.
type Manual struct {
	ch      chan Block
	history *History
	once    sync.Once
}

func NewManual(buffer, keep int) *Manual {
	return &Manual{ch: make(chan Block, buffer), history: NewHistory(keep)}
}

// Finalize records b and delivers it, blocking until the consumer accepts
// it or ctx ends.
func (m *Manual) Finalize(ctx context.Context, b Block) error {
	m.history.Add(b)
	select {
	case m.ch <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record stores b without delivering it, as if the notification was missed.
func (m *Manual) Record(b Block) { m.history.Add(b) }

func (m *Manual) Finalized() <-chan Block { return m.ch }

func (m *Manual) Block(ctx context.Context, number uint64) (Block, error) {
	if err := ctx.Err(); err != nil {
		return Block{}, err
	}
	b, ok := m.history.Get(number)
	if !ok {
		return Block{}, ErrBlockNotFound
	}
	return b, nil
}

// Close ends the finalized stream.
func (m *Manual) Close() { m.once.Do(func() { close(m.ch) }) }
