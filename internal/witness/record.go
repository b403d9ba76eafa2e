package witness

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"proofnet/internal/crypto"
	"proofnet/internal/types"
)

// VoteOutcome is the result of a successful InsertVote.
type VoteOutcome int

const (
	Accepted VoteOutcome = iota
	DuplicateIgnored
	EquivocationDetected
	QuorumReached
)

func (o VoteOutcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case DuplicateIgnored:
		return "duplicate"
	case EquivocationDetected:
		return "equivocation"
	case QuorumReached:
		return "quorum"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Record collects votes for one witness request. It is not safe for
// concurrent use; the worker is its only writer.
type Record struct {
	req       types.WitnessRequest
	set       *types.ValidatorSet
	threshold int

	votes    map[uint16]types.Vote
	expected map[uint16][32]byte
	evidence []types.EquivocationEvidence

	openedAt    time.Time
	completedAt time.Time
	finalized   bool

	now func() time.Time
}

// Open starts a record for req against set. The threshold is fixed for the
// lifetime of the record.
func Open(req types.WitnessRequest, set *types.ValidatorSet, threshold int) (*Record, error) {
	if set == nil {
		return nil, ErrNoValidatorSet
	}
	if req.SetID != set.ID {
		return nil, fmt.Errorf("%w: request set %d, validator set %d", ErrSetMismatch, req.SetID, set.ID)
	}
	if threshold < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreshold, threshold)
	}
	if _, err := crypto.Digest(req.ChainID, req.Payload, types.PublicKey{}); err != nil {
		return nil, err
	}
	r := &Record{
		req:       req,
		set:       set,
		threshold: threshold,
		votes:     make(map[uint16]types.Vote),
		expected:  make(map[uint16][32]byte),
		now:       time.Now,
	}
	r.openedAt = r.now()
	return r, nil
}

func (r *Record) Request() types.WitnessRequest     { return r.req }
func (r *Record) SetID() types.SetID                { return r.set.ID }
func (r *Record) ValidatorSet() *types.ValidatorSet { return r.set }
func (r *Record) Threshold() int                    { return r.threshold }
func (r *Record) Count() int                        { return len(r.votes) }
func (r *Record) OpenedAt() time.Time               { return r.openedAt }
func (r *Record) Finalized() bool                   { return r.finalized }

// Complete reports whether the record has reached quorum.
func (r *Record) Complete() bool { return !r.completedAt.IsZero() }

// CompletedAt is the instant quorum was first reached.
func (r *Record) CompletedAt() time.Time { return r.completedAt }

// HasVote reports whether idx already holds an accepted vote.
func (r *Record) HasVote(idx uint16) bool {
	_, ok := r.votes[idx]
	return ok
}

// Vote returns the accepted vote of idx.
func (r *Record) Vote(idx uint16) (types.Vote, bool) {
	v, ok := r.votes[idx]
	return v, ok
}

// Evidence returns the equivocations observed so far.
func (r *Record) Evidence() []types.EquivocationEvidence {
	return append([]types.EquivocationEvidence(nil), r.evidence...)
}

// ExpectedDigest is the digest validator idx must sign for this request.
func (r *Record) ExpectedDigest(idx uint16) ([32]byte, error) {
	if d, ok := r.expected[idx]; ok {
		return d, nil
	}
	pub, ok := r.set.Validator(idx)
	if !ok {
		return [32]byte{}, ErrUnknownValidator
	}
	d, err := crypto.Digest(r.req.ChainID, r.req.Payload, pub)
	if err != nil {
		return d, err
	}
	r.expected[idx] = d
	return d, nil
}

// InsertVote validates v and adds it to the record. Errors leave the record
// unchanged. An equivocating vote is reported through the outcome and
// recorded as evidence, never stored as a vote.
func (r *Record) InsertVote(v types.Vote) (VoteOutcome, error) {
	if v.RequestID != r.req.RequestID {
		return 0, ErrRequestMismatch
	}
	if v.SetID != r.set.ID {
		return 0, fmt.Errorf("%w: vote set %d, record set %d", ErrSetMismatch, v.SetID, r.set.ID)
	}
	if !r.set.Eligible(r.req.ChainID, v.ValidatorIndex) {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownValidator, v.ValidatorIndex)
	}
	pub, _ := r.set.Validator(v.ValidatorIndex)
	if !crypto.Verify(pub, v.PayloadDigest, v.Signature) {
		return 0, ErrBadSignature
	}

	if prev, ok := r.votes[v.ValidatorIndex]; ok {
		if bytes.Equal(prev.PayloadDigest, v.PayloadDigest) {
			return DuplicateIgnored, nil
		}
		r.evidence = append(r.evidence, types.EquivocationEvidence{
			RequestID:      r.req.RequestID,
			SetID:          r.set.ID,
			ValidatorIndex: v.ValidatorIndex,
			First:          prev,
			Second:         v,
			DetectedAt:     r.now().UnixMilli(),
		})
		return EquivocationDetected, nil
	}

	if r.finalized {
		return 0, ErrCompleted
	}

	want, err := r.ExpectedDigest(v.ValidatorIndex)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(want[:], v.PayloadDigest) {
		return 0, ErrDigestMismatch
	}

	v.PayloadDigest = append([]byte(nil), v.PayloadDigest...)
	r.votes[v.ValidatorIndex] = v

	if r.completedAt.IsZero() && len(r.votes) >= r.threshold {
		r.completedAt = r.now()
		return QuorumReached, nil
	}
	return Accepted, nil
}

// TryFinalize assembles the proof. It returns true exactly once, after
// quorum has been reached.
func (r *Record) TryFinalize() (*types.Proof, bool) {
	if r.finalized || r.completedAt.IsZero() {
		return nil, false
	}
	r.finalized = true

	p := &types.Proof{
		Version:     types.ProofVersion,
		RequestID:   r.req.RequestID,
		ChainID:     r.req.ChainID,
		SetID:       r.set.ID,
		BlockHash:   r.req.BlockHash,
		BlockNumber: r.req.BlockNumber,
		Payload:     append([]byte(nil), r.req.Payload...),
		Signatures:  make([]types.IndexedSignature, 0, len(r.votes)),
	}
	perSigner := r.req.ChainID == types.ChainXRPL
	if !perSigner {
		p.Digest = append([]byte(nil), r.req.Payload...)
	}
	for idx, v := range r.votes {
		s := types.IndexedSignature{ValidatorIndex: idx, Signature: v.Signature}
		if perSigner {
			s.Digest = append([]byte(nil), v.PayloadDigest...)
		}
		p.Signatures = append(p.Signatures, s)
	}
	sort.Slice(p.Signatures, func(i, j int) bool {
		return p.Signatures[i].ValidatorIndex < p.Signatures[j].ValidatorIndex
	})
	return p, true
}
