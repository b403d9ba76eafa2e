package types

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainID identifies the foreign chain a witness request targets.
type ChainID uint8

const (
	ChainEthereum ChainID = 1
	ChainXRPL     ChainID = 2
)

func (c ChainID) String() string {
	switch c {
	case ChainEthereum:
		return "ethereum"
	case ChainXRPL:
		return "xrpl"
	default:
		return fmt.Sprintf("chain(%d)", uint8(c))
	}
}

func (c ChainID) Valid() bool { return c == ChainEthereum || c == ChainXRPL }

// SetID is the monotonically increasing validator set version.
type SetID uint64

// PublicKeyLength is the size of a compressed secp256k1 public key.
const PublicKeyLength = 33

// SignatureLength is the size of a recoverable secp256k1 signature (r || s || v).
const SignatureLength = 65

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeyLength]byte

func (p PublicKey) Bytes() []byte { return p[:] }

func (p PublicKey) Hex() string { return hexutil.Encode(p[:]) }

func (p PublicKey) String() string { return p.Hex() }

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.Hex()), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	if len(b) != PublicKeyLength {
		return fmt.Errorf("public key: expected %d bytes, got %d", PublicKeyLength, len(b))
	}
	copy(p[:], b)
	return nil
}

// PublicKeyFromHex parses a 0x-prefixed compressed public key.
func PublicKeyFromHex(s string) (PublicKey, error) {
	var p PublicKey
	err := p.UnmarshalText([]byte(s))
	return p, err
}

// Signature is a recoverable secp256k1 signature over a 32 byte digest.
type Signature [SignatureLength]byte

func (s Signature) Bytes() []byte { return s[:] }

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(s[:])), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	b, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if len(b) != SignatureLength {
		return fmt.Errorf("signature: expected %d bytes, got %d", SignatureLength, len(b))
	}
	copy(s[:], b)
	return nil
}

// ThresholdPolicy is the fallback quorum fraction applied when a validator
// set does not carry an explicit proof threshold.
type ThresholdPolicy struct {
	Num   int
	Denom int
}

// DefaultThresholdPolicy requires two thirds of the set.
func DefaultThresholdPolicy() ThresholdPolicy { return ThresholdPolicy{Num: 2, Denom: 3} }

func (p ThresholdPolicy) Validate() error {
	if p.Num <= 0 || p.Denom <= 0 {
		return fmt.Errorf("invalid threshold: %d/%d", p.Num, p.Denom)
	}
	if p.Num > p.Denom {
		return fmt.Errorf("invalid threshold: numerator %d > denominator %d", p.Num, p.Denom)
	}
	return nil
}

// Required returns ceil(n*num/denom), never less than one.
func (p ThresholdPolicy) Required(n int) int {
	if p.Denom <= 0 {
		return n
	}
	required := (n * p.Num) / p.Denom
	if (n*p.Num)%p.Denom > 0 {
		required++
	}
	if required < 1 {
		required = 1
	}
	return required
}

// ValidatorSet is the versioned, ordered authority set. The gadget never
// mutates a set once it has been published.
type ValidatorSet struct {
	ID         SetID       `json:"id"`
	Validators []PublicKey `json:"validators"`
	// ProofThreshold of zero defers to the configured ThresholdPolicy.
	ProofThreshold uint32 `json:"proof_threshold"`

	// XRPLSigners is the subset of Validators allowed to co-sign XRPL payloads.
	XRPLSigners   []PublicKey `json:"xrpl_signers,omitempty"`
	XRPLThreshold uint32      `json:"xrpl_threshold,omitempty"`
}

// Validate checks if the validator set configuration is valid
func (vs *ValidatorSet) Validate() error {
	if len(vs.Validators) == 0 {
		return fmt.Errorf("validator set %d is empty", vs.ID)
	}
	if len(vs.Validators) > 1<<16 {
		return fmt.Errorf("validator set %d too large: %d", vs.ID, len(vs.Validators))
	}
	seen := make(map[PublicKey]bool, len(vs.Validators))
	for _, v := range vs.Validators {
		if seen[v] {
			return fmt.Errorf("duplicate validator: %s", v.Hex())
		}
		seen[v] = true
	}
	if int(vs.ProofThreshold) > len(vs.Validators) {
		return fmt.Errorf("proof threshold %d exceeds set size %d", vs.ProofThreshold, len(vs.Validators))
	}
	for _, x := range vs.XRPLSigners {
		if !seen[x] {
			return fmt.Errorf("xrpl signer %s is not a validator", x.Hex())
		}
	}
	if int(vs.XRPLThreshold) > len(vs.XRPLSigners) {
		return fmt.Errorf("xrpl threshold %d exceeds signer count %d", vs.XRPLThreshold, len(vs.XRPLSigners))
	}
	return nil
}

func (vs *ValidatorSet) Len() int { return len(vs.Validators) }

// IndexOf returns the position of pub in the set.
func (vs *ValidatorSet) IndexOf(pub PublicKey) (uint16, bool) {
	for i, v := range vs.Validators {
		if v == pub {
			return uint16(i), true
		}
	}
	return 0, false
}

// Validator returns the key at idx.
func (vs *ValidatorSet) Validator(idx uint16) (PublicKey, bool) {
	if int(idx) >= len(vs.Validators) {
		return PublicKey{}, false
	}
	return vs.Validators[idx], true
}

// Eligible reports whether the validator at idx may sign for chain.
func (vs *ValidatorSet) Eligible(chain ChainID, idx uint16) bool {
	pub, ok := vs.Validator(idx)
	if !ok {
		return false
	}
	if chain != ChainXRPL {
		return true
	}
	for _, x := range vs.XRPLSigners {
		if x == pub {
			return true
		}
	}
	return false
}

// RequiredSignatures returns the quorum for chain, falling back to policy
// when the set carries no explicit threshold.
func (vs *ValidatorSet) RequiredSignatures(chain ChainID, policy ThresholdPolicy) int {
	if chain == ChainXRPL {
		if vs.XRPLThreshold > 0 {
			return int(vs.XRPLThreshold)
		}
		return policy.Required(len(vs.XRPLSigners))
	}
	if vs.ProofThreshold > 0 {
		return int(vs.ProofThreshold)
	}
	return policy.Required(len(vs.Validators))
}

// Clone creates a deep copy of the validator set
func (vs *ValidatorSet) Clone() *ValidatorSet {
	clone := &ValidatorSet{
		ID:             vs.ID,
		ProofThreshold: vs.ProofThreshold,
		XRPLThreshold:  vs.XRPLThreshold,
	}
	clone.Validators = append([]PublicKey(nil), vs.Validators...)
	if vs.XRPLSigners != nil {
		clone.XRPLSigners = append([]PublicKey(nil), vs.XRPLSigners...)
	}
	return clone
}

// WitnessRequest asks validators to attest Payload for delivery to ChainID.
type WitnessRequest struct {
	RequestID   uint64        `json:"request_id"`
	ChainID     ChainID       `json:"chain_id"`
	Payload     hexutil.Bytes `json:"payload"`
	SetID       SetID         `json:"set_id"`
	BlockHash   common.Hash   `json:"block_hash"`
	BlockNumber uint64        `json:"block_number"`
}

// Vote is one validator's signature over a request digest.
type Vote struct {
	RequestID      uint64    `json:"request_id"`
	SetID          SetID     `json:"set_id"`
	ValidatorIndex uint16    `json:"validator_index"`
	Signature      Signature `json:"signature"`
	PayloadDigest  []byte    `json:"payload_digest"`
}

// IndexedSignature is a proof entry. Digest is only populated for chains
// where each signer commits to a different digest.
type IndexedSignature struct {
	ValidatorIndex uint16        `json:"validator_index"`
	Signature      Signature     `json:"signature"`
	Digest         hexutil.Bytes `json:"digest,omitempty"`
}

// ProofVersion is the current stored proof layout.
const ProofVersion uint8 = 1

// Proof is the assembled multi-signature for a request. Signatures are
// sorted by validator index with no duplicates.
type Proof struct {
	Version     uint8              `json:"version"`
	RequestID   uint64             `json:"request_id"`
	ChainID     ChainID            `json:"chain_id"`
	SetID       SetID              `json:"set_id"`
	BlockHash   common.Hash        `json:"block_hash"`
	BlockNumber uint64             `json:"block_number"`
	Payload     hexutil.Bytes      `json:"payload"`
	Digest      hexutil.Bytes      `json:"digest,omitempty"`
	Signatures  []IndexedSignature `json:"signatures"`
}

// SortSignatures orders Signatures by validator index.
func (p *Proof) SortSignatures() {
	sort.Slice(p.Signatures, func(i, j int) bool {
		return p.Signatures[i].ValidatorIndex < p.Signatures[j].ValidatorIndex
	})
}

// Signers returns the validator indices in proof order.
func (p *Proof) Signers() []uint16 {
	out := make([]uint16, len(p.Signatures))
	for i, s := range p.Signatures {
		out[i] = s.ValidatorIndex
	}
	return out
}

// EquivocationEvidence holds two validly signed votes from the same
// validator for the same request and set over different digests.
type EquivocationEvidence struct {
	RequestID      uint64 `json:"request_id"`
	SetID          SetID  `json:"set_id"`
	ValidatorIndex uint16 `json:"validator_index"`
	First          Vote   `json:"first"`
	Second         Vote   `json:"second"`
	DetectedAt     int64  `json:"detected_at"`
}
