package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // XRPL account ids are defined over RIPEMD-160

	"proofnet/internal/types"
)

// xrplMultiSignPrefix is the XRPL hash prefix for multi-signing ("SMT\0").
var xrplMultiSignPrefix = []byte{0x53, 0x4D, 0x54, 0x00}

var ErrDigestInput = errors.New("crypto: payload cannot be digested for chain")

// XRPLAccountID is RIPEMD160(SHA256(pub)) of a compressed key.
func XRPLAccountID(pub types.PublicKey) [20]byte {
	sha := sha256.Sum256(pub[:])
	h := ripemd160.New()
	h.Write(sha[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA512Half returns the first 32 bytes of SHA-512 over data.
func SHA512Half(data ...[]byte) [32]byte {
	h := sha512.New()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil)[:32])
	return out
}

// Digest returns the bytes the validator holding pub must sign for payload.
// Ethereum payloads are already keccak digests. XRPL payloads are serialized
// transactions and every signer commits to its own account id.
func Digest(chain types.ChainID, payload []byte, pub types.PublicKey) ([32]byte, error) {
	switch chain {
	case types.ChainXRPL:
		account := XRPLAccountID(pub)
		return SHA512Half(xrplMultiSignPrefix, payload, account[:]), nil
	case types.ChainEthereum:
		var out [32]byte
		if len(payload) != 32 {
			return out, fmt.Errorf("%w: ethereum payload is %d bytes", ErrDigestInput, len(payload))
		}
		copy(out[:], payload)
		return out, nil
	default:
		return [32]byte{}, fmt.Errorf("%w: unknown chain %d", ErrDigestInput, chain)
	}
}
