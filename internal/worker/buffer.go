package worker

import (
	"proofnet/internal/gossip"
	"proofnet/internal/types"
)

type bufferedVote struct {
	vote types.Vote
	id   gossip.MessageID
}

// voteBuffer holds votes for requests this node has not seen finalized yet.
// Votes keep arrival order per request. When full, the request buffered
// first loses all of its votes. Removals other than take report the message
// ids that left so the dedup cache can admit them again.
type voteBuffer struct {
	limit int
	count int
	votes map[uint64][]bufferedVote
	order []uint64
}

func newVoteBuffer(limit int) *voteBuffer {
	return &voteBuffer{limit: limit, votes: make(map[uint64][]bufferedVote)}
}

// add buffers v and returns the ids of votes evicted to make room.
func (b *voteBuffer) add(v types.Vote, id gossip.MessageID) []gossip.MessageID {
	if _, ok := b.votes[v.RequestID]; !ok {
		b.order = append(b.order, v.RequestID)
	}
	b.votes[v.RequestID] = append(b.votes[v.RequestID], bufferedVote{vote: v, id: id})
	b.count++
	var evicted []gossip.MessageID
	for b.count > b.limit && len(b.order) > 0 {
		for _, e := range b.evict(b.order[0]) {
			evicted = append(evicted, e.id)
		}
	}
	return evicted
}

// take removes and returns the votes buffered for id.
func (b *voteBuffer) take(id uint64) []types.Vote {
	entries := b.evict(id)
	if len(entries) == 0 {
		return nil
	}
	votes := make([]types.Vote, len(entries))
	for i, e := range entries {
		votes[i] = e.vote
	}
	return votes
}

func (b *voteBuffer) evict(id uint64) []bufferedVote {
	entries, ok := b.votes[id]
	if !ok {
		return nil
	}
	b.count -= len(entries)
	delete(b.votes, id)
	for i, o := range b.order {
		if o == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return entries
}

// dropWhere removes every buffered vote matching drop and returns their ids.
func (b *voteBuffer) dropWhere(drop func(types.Vote) bool) []gossip.MessageID {
	var dropped []gossip.MessageID
	for req, entries := range b.votes {
		kept := make([]bufferedVote, 0, len(entries))
		for _, e := range entries {
			if drop(e.vote) {
				dropped = append(dropped, e.id)
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(entries) {
			continue
		}
		if len(kept) == 0 {
			b.evict(req)
			continue
		}
		b.count -= len(entries) - len(kept)
		b.votes[req] = kept
	}
	return dropped
}

func (b *voteBuffer) len() int { return b.count }
