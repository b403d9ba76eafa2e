package wire

import (
	"encoding/json"
	"fmt"

	"proofnet/internal/types"
)

// versionedProof wraps a proof so older layouts stay decodable.
type versionedProof struct {
	Version uint8           `json:"version"`
	Proof   json.RawMessage `json:"proof"`
}

// EncodeProof produces the canonical stored form of p.
func EncodeProof(p *types.Proof) ([]byte, error) {
	if p.Version == 0 {
		return nil, fmt.Errorf("%w: proof without version", ErrMalformed)
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal proof: %w", err)
	}
	return json.Marshal(versionedProof{Version: p.Version, Proof: body})
}

// DecodeProof reverses EncodeProof.
func DecodeProof(b []byte) (*types.Proof, error) {
	var vp versionedProof
	if err := json.Unmarshal(b, &vp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch vp.Version {
	case types.ProofVersion:
		var p types.Proof
		if err := json.Unmarshal(vp.Proof, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: proof version %d", ErrUnsupportedVersion, vp.Version)
	}
}
