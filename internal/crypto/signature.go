package crypto

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	geth "github.com/ethereum/go-ethereum/crypto"

	"proofnet/internal/types"
)

// Verify checks a recoverable signature over a 32 byte digest against a
// compressed public key. High-S and out of range recovery ids are rejected.
func Verify(pub types.PublicKey, digest []byte, sig types.Signature) bool {
	if len(digest) != 32 {
		return false
	}
	if sig[64] > 1 {
		return false
	}
	return geth.VerifySignature(pub[:], digest, sig[:64])
}

// CompressPublicKey converts a go-ethereum public key into the set encoding.
func CompressPublicKey(pub *ecdsa.PublicKey) types.PublicKey {
	var out types.PublicKey
	copy(out[:], geth.CompressPubkey(pub))
	return out
}

// DeriveAddress returns the Ethereum address of a compressed key. Keys that
// do not decode map to the zero address.
func DeriveAddress(pub types.PublicKey) common.Address {
	key, err := geth.DecompressPubkey(pub[:])
	if err != nil {
		return common.Address{}
	}
	return geth.PubkeyToAddress(*key)
}

// DeriveAddresses maps DeriveAddress over a set, preserving order.
func DeriveAddresses(set []types.PublicKey) []common.Address {
	out := make([]common.Address, len(set))
	for i, p := range set {
		out[i] = DeriveAddress(p)
	}
	return out
}

// HashMessage creates a Keccak256 hash of the message
func HashMessage(message []byte) [32]byte {
	return geth.Keccak256Hash(message)
}
