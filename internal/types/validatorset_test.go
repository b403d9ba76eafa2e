package types

import (
	"encoding/json"
	"testing"
)

func key(b byte) PublicKey {
	var p PublicKey
	p[0] = 0x02
	p[32] = b
	return p
}

func TestValidatorSetValidate(t *testing.T) {
	vs := &ValidatorSet{ID: 1, Validators: []PublicKey{key(1), key(2), key(3)}, ProofThreshold: 2}
	if err := vs.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidatorSetValidateFailsDuplicate(t *testing.T) {
	vs := &ValidatorSet{ID: 1, Validators: []PublicKey{key(1), key(1)}}
	if err := vs.Validate(); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestValidatorSetValidateRejectsOutsiderXRPLSigner(t *testing.T) {
	vs := &ValidatorSet{ID: 1, Validators: []PublicKey{key(1), key(2)}, XRPLSigners: []PublicKey{key(9)}}
	if err := vs.Validate(); err == nil {
		t.Fatalf("expected xrpl signer error")
	}
}

func TestValidatorSetValidateThresholdTooHigh(t *testing.T) {
	vs := &ValidatorSet{ID: 1, Validators: []PublicKey{key(1), key(2)}, ProofThreshold: 3}
	if err := vs.Validate(); err == nil {
		t.Fatalf("expected threshold error")
	}
}

func TestRequiredSignatures(t *testing.T) {
	policy := ThresholdPolicy{Num: 3, Denom: 4}
	vs := &ValidatorSet{ID: 1, Validators: []PublicKey{key(1), key(2), key(3), key(4)}}
	if got := vs.RequiredSignatures(ChainEthereum, policy); got != 3 {
		t.Fatalf("expected 3 required signatures, got %d", got)
	}
	vs.ProofThreshold = 2
	if got := vs.RequiredSignatures(ChainEthereum, policy); got != 2 {
		t.Fatalf("explicit threshold should win, got %d", got)
	}
}

func TestRequiredSignaturesXRPLSubset(t *testing.T) {
	vs := &ValidatorSet{
		ID:          1,
		Validators:  []PublicKey{key(1), key(2), key(3), key(4), key(5)},
		XRPLSigners: []PublicKey{key(2), key(4)},
	}
	if got := vs.RequiredSignatures(ChainXRPL, DefaultThresholdPolicy()); got != 2 {
		t.Fatalf("expected 2 for xrpl subset, got %d", got)
	}
	if vs.Eligible(ChainXRPL, 0) {
		t.Fatalf("validator 0 is not an xrpl signer")
	}
	if !vs.Eligible(ChainXRPL, 3) {
		t.Fatalf("validator 3 is an xrpl signer")
	}
	if !vs.Eligible(ChainEthereum, 0) {
		t.Fatalf("every validator signs ethereum payloads")
	}
	if vs.Eligible(ChainEthereum, 5) {
		t.Fatalf("index 5 is out of range")
	}
}

func TestThresholdPolicyRequired(t *testing.T) {
	cases := []struct {
		num, denom, n, want int
	}{
		{2, 3, 3, 2},
		{2, 3, 4, 3},
		{2, 3, 5, 4},
		{1, 2, 1, 1},
		{1, 3, 0, 1},
	}
	for _, c := range cases {
		p := ThresholdPolicy{Num: c.num, Denom: c.denom}
		if got := p.Required(c.n); got != c.want {
			t.Fatalf("%d/%d of %d: expected %d, got %d", c.num, c.denom, c.n, c.want, got)
		}
	}
}

func TestClone(t *testing.T) {
	vs := &ValidatorSet{ID: 4, Validators: []PublicKey{key(1), key(2)}, XRPLSigners: []PublicKey{key(2)}}
	clone := vs.Clone()
	if &clone.Validators[0] == &vs.Validators[0] {
		t.Fatalf("clone should deep copy slice")
	}
	clone.Validators[0] = key(7)
	if vs.Validators[0] != key(1) {
		t.Fatalf("mutating clone changed original")
	}
}

func TestPublicKeyJSON(t *testing.T) {
	vs := &ValidatorSet{ID: 2, Validators: []PublicKey{key(5)}}
	data, err := json.Marshal(vs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ValidatorSet
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Validators[0] != key(5) {
		t.Fatalf("key mismatch after json: %s", back.Validators[0].Hex())
	}
	if _, err := PublicKeyFromHex("0x1234"); err == nil {
		t.Fatalf("short key should fail")
	}
}

func TestProofSortSignatures(t *testing.T) {
	p := &Proof{Signatures: []IndexedSignature{{ValidatorIndex: 4}, {ValidatorIndex: 1}, {ValidatorIndex: 2}}}
	p.SortSignatures()
	got := p.Signers()
	if got[0] != 1 || got[1] != 2 || got[2] != 4 {
		t.Fatalf("unexpected order %v", got)
	}
}
