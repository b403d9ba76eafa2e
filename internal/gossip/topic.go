package gossip

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ProtocolSuffix is appended to every protocol name.
const ProtocolSuffix = "ethy/1"

// ProtocolName derives the network-unique protocol identifier from the
// genesis hash and an optional fork id, e.g. "/<genesis>/<fork>/ethy/1".
func ProtocolName(genesis []byte, forkID string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(hex.EncodeToString(genesis))
	if forkID != "" {
		b.WriteString("/")
		b.WriteString(forkID)
	}
	b.WriteString("/")
	b.WriteString(ProtocolSuffix)
	return b.String()
}

// Topic scopes gossip traffic to a single witness request.
type Topic uint64

func TopicFor(requestID uint64) Topic { return Topic(requestID) }

func (t Topic) RequestID() uint64 { return uint64(t) }

func (t Topic) String() string { return fmt.Sprintf("request/%d", uint64(t)) }
