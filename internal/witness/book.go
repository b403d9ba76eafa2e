package witness

import (
	"sort"
	"time"

	"proofnet/internal/types"
)

// Book holds the open records keyed by request id together with the set of
// request ids whose proofs are done.
type Book struct {
	records   map[uint64]*Record
	completed *Completed
	now       func() time.Time
}

func NewBook() *Book {
	return &Book{records: make(map[uint64]*Record), completed: NewCompleted(), now: time.Now}
}

// WithClock makes records opened by the book read time from now.
func (b *Book) WithClock(now func() time.Time) *Book {
	b.now = now
	return b
}

// Open returns the record for req.RequestID, creating it if needed. The
// boolean is true when a new record was created.
func (b *Book) Open(req types.WitnessRequest, set *types.ValidatorSet, threshold int) (*Record, bool, error) {
	if r, ok := b.records[req.RequestID]; ok {
		return r, false, nil
	}
	if b.completed.Contains(req.RequestID) {
		return nil, false, ErrCompleted
	}
	r, err := Open(req, set, threshold)
	if err != nil {
		return nil, false, err
	}
	r.now = b.now
	r.openedAt = b.now()
	b.records[req.RequestID] = r
	return r, true, nil
}

func (b *Book) Get(id uint64) (*Record, bool) {
	r, ok := b.records[id]
	return r, ok
}

// Close drops the record for id and remembers id as completed.
func (b *Book) Close(id uint64) {
	delete(b.records, id)
	b.completed.Mark(id)
}

// Abandon drops the record for id without marking it completed, so a later
// request with the same id may open a fresh record.
func (b *Book) Abandon(id uint64) {
	delete(b.records, id)
}

// IsCompleted reports whether id was closed.
func (b *Book) IsCompleted(id uint64) bool { return b.completed.Contains(id) }

func (b *Book) Len() int { return len(b.records) }

// Pending returns open records that have not been finalized, ordered by
// request id.
func (b *Book) Pending() []*Record {
	out := make([]*Record, 0, len(b.records))
	for _, r := range b.records {
		if !r.Finalized() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].req.RequestID < out[j].req.RequestID })
	return out
}
