package gossip

import (
	"context"
	"sync"
)

// LocalHub connects in-process transports. Every broadcast is delivered to
// every other member; a member whose inbox is full misses the message.
type LocalHub struct {
	mu      sync.RWMutex
	members map[string]*LocalTransport
}

func NewLocalHub() *LocalHub {
	return &LocalHub{members: make(map[string]*LocalTransport)}
}

// Join registers a named member with an inbox of the given capacity.
func (h *LocalHub) Join(name string, buffer int) *LocalTransport {
	if buffer <= 0 {
		buffer = 256
	}
	t := &LocalTransport{hub: h, name: name, inbox: make(chan Message, buffer)}
	h.mu.Lock()
	h.members[name] = t
	h.mu.Unlock()
	return t
}

func (h *LocalHub) leave(name string) {
	h.mu.Lock()
	delete(h.members, name)
	h.mu.Unlock()
}

// LocalTransport is one member of a LocalHub.
type LocalTransport struct {
	hub   *LocalHub
	name  string
	inbox chan Message

	mu     sync.Mutex
	closed bool
	sent   int
}

func (t *LocalTransport) Broadcast(ctx context.Context, topic Topic, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.sent++
	t.mu.Unlock()

	t.hub.mu.RLock()
	defer t.hub.mu.RUnlock()
	for name, peer := range t.hub.members {
		if name == t.name {
			continue
		}
		peer.deliver(Message{Topic: topic, Data: append([]byte(nil), data...), From: t.name})
	}
	return nil
}

func (t *LocalTransport) deliver(m Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.inbox <- m:
	default:
	}
}

func (t *LocalTransport) Messages() <-chan Message { return t.inbox }

// Sent counts successful Broadcast calls.
func (t *LocalTransport) Sent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

func (t *LocalTransport) Close() error {
	t.hub.leave(t.name)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	return nil
}
