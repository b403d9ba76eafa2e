package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofnet/internal/types"
)

func backends(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewInMemory() },
		"leveldb": func() Store {
			s, err := NewLevelDB(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"pebble": func() Store {
			s, err := NewPebble(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}
}

func testProof(id uint64) *types.Proof {
	return &types.Proof{
		Version:   types.ProofVersion,
		RequestID: id,
		ChainID:   types.ChainEthereum,
		SetID:     7,
		Payload:   []byte{0xde, 0xad},
		Digest:    []byte{0xde, 0xad},
		Signatures: []types.IndexedSignature{
			{ValidatorIndex: 1},
			{ValidatorIndex: 2},
			{ValidatorIndex: 4},
		},
	}
}

func TestProofPersistence(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			_, err := s.GetProof(1)
			assert.ErrorIs(t, err, ErrNotFound)
			has, err := s.HasProof(1)
			require.NoError(t, err)
			assert.False(t, has)

			require.NoError(t, s.PutProof(testProof(1)))
			got, err := s.GetProof(1)
			require.NoError(t, err)
			assert.Equal(t, []uint16{1, 2, 4}, got.Signers())

			has, err = s.HasProof(1)
			require.NoError(t, err)
			assert.True(t, has)
		})
	}
}

func TestPutProofIdempotent(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			require.NoError(t, s.PutProof(testProof(1)))
			require.NoError(t, s.MarkNotified(1))

			// same proof again: no-op, does not resurrect the pending marker
			require.NoError(t, s.PutProof(testProof(1)))
			pending, err := s.PendingNotifications()
			require.NoError(t, err)
			assert.Empty(t, pending)

			conflicting := testProof(1)
			conflicting.Signatures = conflicting.Signatures[:2]
			assert.ErrorIs(t, s.PutProof(conflicting), ErrConflict)

			got, err := s.GetProof(1)
			require.NoError(t, err)
			assert.Len(t, got.Signatures, 3)
		})
	}
}

func TestPendingNotifications(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			for _, id := range []uint64{12, 3, 100} {
				require.NoError(t, s.PutProof(testProof(id)))
			}
			pending, err := s.PendingNotifications()
			require.NoError(t, err)
			require.Len(t, pending, 3)
			assert.Equal(t, uint64(3), pending[0].RequestID)
			assert.Equal(t, uint64(12), pending[1].RequestID)
			assert.Equal(t, uint64(100), pending[2].RequestID)

			require.NoError(t, s.MarkNotified(12))
			pending, err = s.PendingNotifications()
			require.NoError(t, err)
			assert.Len(t, pending, 2)
		})
	}
}

func TestValidatorSets(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			_, err := s.LatestValidatorSet()
			assert.ErrorIs(t, err, ErrNotFound)

			var pub types.PublicKey
			pub[0] = 0x02
			for _, id := range []types.SetID{2, 10, 9} {
				require.NoError(t, s.PutValidatorSet(&types.ValidatorSet{ID: id, Validators: []types.PublicKey{pub}, ProofThreshold: 1}))
			}
			latest, err := s.LatestValidatorSet()
			require.NoError(t, err)
			assert.Equal(t, types.SetID(10), latest.ID)

			set, err := s.GetValidatorSet(9)
			require.NoError(t, err)
			assert.Equal(t, pub, set.Validators[0])
		})
	}
}

func TestEquivocations(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			for i := uint16(0); i < 3; i++ {
				require.NoError(t, s.SaveEquivocation(types.EquivocationEvidence{RequestID: 5, SetID: 1, ValidatorIndex: i}))
			}
			all, err := s.ListEquivocations(0)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			limited, err := s.ListEquivocations(2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestOpenBackend(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("rocks", t.TempDir())
	assert.Error(t, err)
}
