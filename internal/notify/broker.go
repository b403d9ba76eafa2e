package notify

import (
	"sync"

	"proofnet/internal/metrics"
	"proofnet/internal/types"
)

// DefaultBuffer is the per-subscriber queue length when none is given.
const DefaultBuffer = 64

// Subscription receives finished proofs on C until Close.
type Subscription struct {
	C <-chan *types.Proof

	ch     chan *types.Proof
	id     uint64
	broker *Broker
	once   sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.broker.remove(s.id) })
}

// Broker fans proofs out to subscribers. Publish never blocks: a full
// subscriber loses its oldest queued proof.
type Broker struct {
	mu      sync.Mutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	metrics metrics.Provider
}

func NewBroker(m metrics.Provider) *Broker {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Broker{subs: make(map[uint64]*Subscription), metrics: m}
}

// Subscribe registers a subscriber with the given queue length.
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan *types.Proof, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{C: ch, ch: ch, id: b.nextID, broker: b}
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers p to every subscriber.
func (b *Broker) Publish(p *types.Proof) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- p:
			continue
		default:
		}
		// full: drop the oldest and retry once
		select {
		case <-s.ch:
			b.metrics.IncCounter(metrics.NotificationsDropped, 1)
		default:
		}
		select {
		case s.ch <- p:
		default:
			b.metrics.IncCounter(metrics.NotificationsDropped, 1)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(s.ch)
	}
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
