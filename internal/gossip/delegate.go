package gossip

import (
	"sync"

	"github.com/hashicorp/memberlist"

	"proofnet/internal/logging"
)

// voteBroadcast is a queued outbound envelope. Votes never invalidate each
// other; the receiving side deduplicates.
type voteBroadcast struct {
	msg []byte
}

func (b *voteBroadcast) Invalidates(memberlist.Broadcast) bool { return false }
func (b *voteBroadcast) Message() []byte                       { return b.msg }
func (b *voteBroadcast) Finished()                             {}

// voteDelegate implements memberlist.Delegate and memberlist.EventDelegate
// for vote propagation.
type voteDelegate struct {
	nodeID string
	logger logging.Logger
	queue  *memberlist.TransmitLimitedQueue

	mu      sync.RWMutex
	closed  bool
	inbox   chan Message
	dropped uint64
}

func newVoteDelegate(nodeID string, inboxSize int, logger logging.Logger) *voteDelegate {
	return &voteDelegate{
		nodeID: nodeID,
		logger: logger,
		inbox:  make(chan Message, inboxSize),
	}
}

// NotifyMsg is invoked when a user-data message is received via gossip.
// This is called from memberlist's goroutine, so it must not block.
func (d *voteDelegate) NotifyMsg(data []byte) {
	topic, payload, err := decodeEnvelope(data)
	if err != nil {
		d.logger.Debug("Dropping gossip message", "error", err)
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.inbox <- Message{Topic: topic, Data: payload}:
	default:
		d.dropped++
		d.logger.Warn("Gossip inbox full, dropping message", "topic", topic.String())
	}
}

// GetBroadcasts is called when memberlist needs messages to gossip.
func (d *voteDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return d.queue.GetBroadcasts(overhead, limit)
}

// Votes are ephemeral, so there is no state to exchange on push/pull.
func (d *voteDelegate) LocalState(join bool) []byte            { return nil }
func (d *voteDelegate) MergeRemoteState(buf []byte, join bool) {}

// NodeMeta returns metadata about this node (max 512 bytes).
func (d *voteDelegate) NodeMeta(limit int) []byte {
	meta := []byte(d.nodeID)
	if len(meta) > limit {
		meta = meta[:limit]
	}
	return meta
}

func (d *voteDelegate) enqueue(msg []byte) {
	d.queue.QueueBroadcast(&voteBroadcast{msg: msg})
}

func (d *voteDelegate) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.inbox)
	}
}

// NotifyJoin is called when a node joins the cluster
func (d *voteDelegate) NotifyJoin(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Info("Node joined gossip cluster", "node", node.Name, "addr", node.Address())
}

// NotifyLeave is called when a node leaves the cluster
func (d *voteDelegate) NotifyLeave(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Info("Node left gossip cluster", "node", node.Name, "addr", node.Address())
}

// NotifyUpdate is called when a node is updated
func (d *voteDelegate) NotifyUpdate(node *memberlist.Node) {
	if node == nil {
		return
	}
	d.logger.Debug("Node updated in gossip cluster", "node", node.Name, "addr", node.Address())
}
