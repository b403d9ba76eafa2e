package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"proofnet/internal/types"
)

// VoteVersion is the only vote layout this node speaks.
const VoteVersion uint8 = 1

// MaxDigestLength bounds the digest field of an inbound vote.
const MaxDigestLength = 64

// version | request_id | set_id | validator_index | signature | digest_len
const voteHeaderLength = 1 + 8 + 8 + 2 + types.SignatureLength + 2

var (
	ErrMalformed          = errors.New("wire: malformed message")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
)

// EncodeVote serialises v in the fixed big-endian gossip layout.
func EncodeVote(v types.Vote) []byte {
	buf := make([]byte, voteHeaderLength+len(v.PayloadDigest))
	buf[0] = VoteVersion
	binary.BigEndian.PutUint64(buf[1:9], v.RequestID)
	binary.BigEndian.PutUint64(buf[9:17], uint64(v.SetID))
	binary.BigEndian.PutUint16(buf[17:19], v.ValidatorIndex)
	copy(buf[19:19+types.SignatureLength], v.Signature[:])
	off := 19 + types.SignatureLength
	binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(v.PayloadDigest)))
	copy(buf[voteHeaderLength:], v.PayloadDigest)
	return buf
}

// DecodeVote parses a gossip vote. Trailing bytes are rejected.
func DecodeVote(b []byte) (types.Vote, error) {
	var v types.Vote
	if len(b) < voteHeaderLength {
		return v, fmt.Errorf("%w: vote too short (%d bytes)", ErrMalformed, len(b))
	}
	if b[0] != VoteVersion {
		return v, fmt.Errorf("%w: %d", ErrUnsupportedVersion, b[0])
	}
	v.RequestID = binary.BigEndian.Uint64(b[1:9])
	v.SetID = types.SetID(binary.BigEndian.Uint64(b[9:17]))
	v.ValidatorIndex = binary.BigEndian.Uint16(b[17:19])
	copy(v.Signature[:], b[19:19+types.SignatureLength])
	off := 19 + types.SignatureLength
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	if n == 0 || n > MaxDigestLength {
		return v, fmt.Errorf("%w: digest length %d", ErrMalformed, n)
	}
	if len(b)-voteHeaderLength != n {
		return v, fmt.Errorf("%w: digest length %d, have %d bytes", ErrMalformed, n, len(b)-voteHeaderLength)
	}
	v.PayloadDigest = append([]byte(nil), b[voteHeaderLength:]...)
	return v, nil
}
