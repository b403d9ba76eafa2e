package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"proofnet/internal/types"
)

// DERSignature converts a recoverable signature into the canonical DER form
// XRPL expects. S is normalised to the lower half of the curve order.
func DERSignature(sig types.Signature) ([]byte, error) {
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow || r.IsZero() {
		return nil, fmt.Errorf("invalid signature r value")
	}
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsZero() {
		return nil, fmt.Errorf("invalid signature s value")
	}
	// Serialize emits the low-S form.
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}
