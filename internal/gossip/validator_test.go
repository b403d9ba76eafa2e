package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofnet/internal/logging"
	"proofnet/internal/types"
	"proofnet/internal/wire"
)

func newTestValidator(t *testing.T, active types.SetID, size int) *Validator {
	t.Helper()
	v, err := NewValidator(ValidatorConfig{RetentionWindow: 1, SeenCacheSize: 16, CompletedCacheSize: 4}, logging.NewDefaultLogger())
	require.NoError(t, err)
	v.SetActive(&types.ValidatorSet{ID: active, Validators: make([]types.PublicKey, size)})
	return v
}

func rawVote(requestID uint64, set types.SetID, idx uint16) []byte {
	return wire.EncodeVote(types.Vote{
		RequestID:      requestID,
		SetID:          set,
		ValidatorIndex: idx,
		PayloadDigest:  make([]byte, 32),
	})
}

func TestValidateActions(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		action Action
		reason Reason
	}{
		{"current set", rawVote(1, 7, 2), KeepAndRebroadcast, ReasonNone},
		{"previous set inside retention", rawVote(1, 6, 2), KeepAndRebroadcast, ReasonNone},
		{"stale set", rawVote(1, 5, 2), Discard, ReasonStaleSet},
		{"next set", rawVote(1, 8, 2), KeepOnly, ReasonNone},
		{"set beyond future window", rawVote(1, 9, 2), Discard, ReasonFutureSet},
		{"index out of range", rawVote(1, 7, 5), Discard, ReasonUnknownValidator},
		{"garbage", []byte{0x01, 0x02}, Discard, ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(t, 7, 5)
			res := v.Validate(TopicFor(1), tt.raw)
			assert.Equal(t, tt.action, res.Action)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestValidateReturnsDecodedVote(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	res := v.Validate(TopicFor(11), rawVote(11, 7, 4))
	require.Equal(t, KeepAndRebroadcast, res.Action)
	assert.Equal(t, uint64(11), res.Vote.RequestID)
	assert.Equal(t, uint16(4), res.Vote.ValidatorIndex)
}

func TestValidateDuplicateSuppression(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	raw := rawVote(1, 7, 2)
	assert.Equal(t, KeepAndRebroadcast, v.Validate(TopicFor(1), raw).Action)

	res := v.Validate(TopicFor(1), raw)
	assert.Equal(t, Discard, res.Action)
	assert.Equal(t, ReasonDuplicate, res.Reason)

	// a different vote from the same validator is not a network duplicate;
	// equivocation is decided by the witness record
	other := wire.EncodeVote(types.Vote{RequestID: 1, SetID: 7, ValidatorIndex: 2, PayloadDigest: []byte{1}})
	assert.Equal(t, KeepAndRebroadcast, v.Validate(TopicFor(1), other).Action)
}

func TestRejectedMessagesAreNotCached(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	raw := rawVote(1, 7, 5)
	assert.Equal(t, ReasonUnknownValidator, v.Validate(TopicFor(1), raw).Reason)
	assert.Equal(t, ReasonUnknownValidator, v.Validate(TopicFor(1), raw).Reason)
}

func TestTopicMismatchDoesNotCache(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	raw := rawVote(1, 7, 2)

	res := v.Validate(TopicFor(2), raw)
	assert.Equal(t, Discard, res.Action)
	assert.Equal(t, ReasonTopicMismatch, res.Reason)

	// the same bytes on the right topic are still fresh
	assert.Equal(t, KeepAndRebroadcast, v.Validate(TopicFor(1), raw).Action)
}

func TestForgetReadmits(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	raw := rawVote(1, 8, 2)

	res := v.Validate(TopicFor(1), raw)
	require.Equal(t, KeepOnly, res.Action)
	assert.Equal(t, ReasonDuplicate, v.Validate(TopicFor(1), raw).Reason)

	v.Forget(res.ID)
	assert.Equal(t, KeepOnly, v.Validate(TopicFor(1), raw).Action)
}

func TestFutureWindowFollowsActiveSet(t *testing.T) {
	v, err := NewValidator(ValidatorConfig{RetentionWindow: 1, FutureWindow: 2}, nil)
	require.NoError(t, err)
	v.SetActive(&types.ValidatorSet{ID: 3, Validators: make([]types.PublicKey, 4)})

	assert.Equal(t, KeepOnly, v.Validate(TopicFor(1), rawVote(1, 5, 0)).Action)
	assert.Equal(t, ReasonFutureSet, v.Validate(TopicFor(1), rawVote(1, 6, 0)).Reason)

	v.SetActive(&types.ValidatorSet{ID: 4, Validators: make([]types.PublicKey, 4)})
	assert.Equal(t, KeepOnly, v.Validate(TopicFor(1), rawVote(1, 6, 0)).Action)
}

func TestExpireOnlyAfterPersisted(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	topic := TopicFor(3)
	assert.False(t, v.Expire(topic))

	v.MarkPersisted(3)
	assert.True(t, v.Expire(topic))

	res := v.Validate(topic, rawVote(3, 7, 1))
	assert.Equal(t, Discard, res.Action)
	assert.Equal(t, ReasonCompleted, res.Reason)
}

func TestSetActiveRotation(t *testing.T) {
	v := newTestValidator(t, 7, 5)
	assert.False(t, v.SetActive(&types.ValidatorSet{ID: 6, Validators: make([]types.PublicKey, 3)}))

	require.True(t, v.SetActive(&types.ValidatorSet{ID: 8, Validators: make([]types.PublicKey, 3)}))
	id, ok := v.Active()
	require.True(t, ok)
	assert.Equal(t, types.SetID(8), id)

	// set 7 is still inside the window and keeps its own size
	assert.Equal(t, KeepAndRebroadcast, v.Validate(TopicFor(1), rawVote(1, 7, 4)).Action)
	assert.Equal(t, ReasonUnknownValidator, v.Validate(TopicFor(1), rawVote(1, 8, 4)).Reason)
	assert.Equal(t, ReasonStaleSet, v.Validate(TopicFor(1), rawVote(1, 6, 0)).Reason)
}

func TestValidateBeforeAnySet(t *testing.T) {
	v, err := NewValidator(DefaultValidatorConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, KeepOnly, v.Validate(TopicFor(1), rawVote(1, 1, 0)).Action)
}

func TestProtocolName(t *testing.T) {
	genesis := []byte{0xab, 0xcd}
	assert.Equal(t, "/abcd/ethy/1", ProtocolName(genesis, ""))
	assert.Equal(t, "/abcd/mainnet/ethy/1", ProtocolName(genesis, "mainnet"))
	assert.NotEqual(t, ProtocolName([]byte{1}, ""), ProtocolName([]byte{2}, ""))
}
