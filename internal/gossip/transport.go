package gossip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("gossip: transport closed")

// Message is an inbound gossip payload.
type Message struct {
	Topic Topic
	Data  []byte
	From  string
}

// Transport is the p2p port the worker depends on. Delivery is best effort
// and unordered across peers.
type Transport interface {
	Broadcast(ctx context.Context, topic Topic, data []byte) error
	Messages() <-chan Message
	Close() error
}

// envelope: topic u64 | data
func encodeEnvelope(topic Topic, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], uint64(topic))
	copy(buf[8:], data)
	return buf
}

func decodeEnvelope(b []byte) (Topic, []byte, error) {
	if len(b) < 8 {
		return 0, nil, fmt.Errorf("envelope too short: %d bytes", len(b))
	}
	return Topic(binary.BigEndian.Uint64(b[:8])), append([]byte(nil), b[8:]...), nil
}
