package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"proofnet/internal/types"
	"proofnet/internal/wire"
)

// ErrConflict is returned when a different proof is already stored for a
// request id.
var ErrConflict = errors.New("storage: conflicting proof already stored")

// Store persists finished proofs and the auxiliary data around them.
type Store interface {
	// PutProof stores p and marks it as awaiting notification in one write.
	// Storing an identical proof again is a no-op.
	PutProof(p *types.Proof) error
	GetProof(requestID uint64) (*types.Proof, error)
	HasProof(requestID uint64) (bool, error)
	// PendingNotifications lists stored proofs not yet published, by request id.
	PendingNotifications() ([]*types.Proof, error)
	MarkNotified(requestID uint64) error

	PutValidatorSet(set *types.ValidatorSet) error
	GetValidatorSet(id types.SetID) (*types.ValidatorSet, error)
	LatestValidatorSet() (*types.ValidatorSet, error)

	SaveEquivocation(ev types.EquivocationEvidence) error
	// ListEquivocations returns evidence in key order. limit<=0 means no limit.
	ListEquivocations(limit int) ([]types.EquivocationEvidence, error)

	Close() error
}

const auxPrefix = "aux/ethy/"

var (
	pendingPrefix      = []byte(auxPrefix + "pending/")
	setPrefix          = []byte(auxPrefix + "set/")
	equivocationPrefix = []byte(auxPrefix + "equivocation/")
)

func keyProof(id uint64) []byte    { return []byte(fmt.Sprintf("%sproof/%020d", auxPrefix, id)) }
func keyPending(id uint64) []byte  { return []byte(fmt.Sprintf("%spending/%020d", auxPrefix, id)) }
func keySet(id types.SetID) []byte { return []byte(fmt.Sprintf("%sset/%020d", auxPrefix, uint64(id))) }
func keyEquivocation(ev types.EquivocationEvidence) []byte {
	return []byte(fmt.Sprintf("%sequivocation/%020d:%020d:%05d", auxPrefix, ev.RequestID, uint64(ev.SetID), ev.ValidatorIndex))
}

// KVStore implements Store over any KV backend.
type KVStore struct {
	mu sync.Mutex
	kv KV
}

func NewKVStore(kv KV) *KVStore { return &KVStore{kv: kv} }

// NewInMemory returns a Store that lives only as long as the process.
func NewInMemory() *KVStore { return NewKVStore(newMemKV()) }

// NewLevelDB opens (or creates) a LevelDB backed store at path.
func NewLevelDB(path string) (*KVStore, error) {
	kv, err := openLevelKV(path)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return NewKVStore(kv), nil
}

// NewPebble opens (or creates) a Pebble backed store at path.
func NewPebble(path string) (*KVStore, error) {
	kv, err := openPebbleKV(path)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return NewKVStore(kv), nil
}

// Open selects a backend by name: "leveldb", "pebble" or "memory".
func Open(backend, path string) (*KVStore, error) {
	switch backend {
	case "", "leveldb":
		return NewLevelDB(path)
	case "pebble":
		return NewPebble(path)
	case "memory":
		return NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func (s *KVStore) PutProof(p *types.Proof) error {
	data, err := wire.EncodeProof(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.kv.Get(keyProof(p.RequestID))
	switch {
	case err == nil:
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%w: request %d", ErrConflict, p.RequestID)
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("read proof %d: %w", p.RequestID, err)
	}

	var b Batch
	b.Put(keyProof(p.RequestID), data)
	b.Put(keyPending(p.RequestID), []byte{1})
	if err := s.kv.Write(&b); err != nil {
		return fmt.Errorf("write proof %d: %w", p.RequestID, err)
	}
	return nil
}

func (s *KVStore) GetProof(requestID uint64) (*types.Proof, error) {
	data, err := s.kv.Get(keyProof(requestID))
	if err != nil {
		return nil, err
	}
	return wire.DecodeProof(data)
}

func (s *KVStore) HasProof(requestID uint64) (bool, error) {
	_, err := s.kv.Get(keyProof(requestID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *KVStore) PendingNotifications() ([]*types.Proof, error) {
	var ids []uint64
	err := s.kv.Iterate(pendingPrefix, func(key, _ []byte) error {
		id, err := strconv.ParseUint(string(key[len(pendingPrefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("bad pending key %q: %w", key, err)
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Proof, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProof(id)
		if err != nil {
			return nil, fmt.Errorf("pending proof %d: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *KVStore) MarkNotified(requestID uint64) error {
	var b Batch
	b.Delete(keyPending(requestID))
	return s.kv.Write(&b)
}

func (s *KVStore) PutValidatorSet(set *types.ValidatorSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	var b Batch
	b.Put(keySet(set.ID), data)
	return s.kv.Write(&b)
}

func (s *KVStore) GetValidatorSet(id types.SetID) (*types.ValidatorSet, error) {
	data, err := s.kv.Get(keySet(id))
	if err != nil {
		return nil, err
	}
	var set types.ValidatorSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *KVStore) LatestValidatorSet() (*types.ValidatorSet, error) {
	var last []byte
	err := s.kv.Iterate(setPrefix, func(_, value []byte) error {
		// keys are zero padded, so the final entry is the newest set
		last = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrNotFound
	}
	var set types.ValidatorSet
	if err := json.Unmarshal(last, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *KVStore) SaveEquivocation(ev types.EquivocationEvidence) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	var b Batch
	b.Put(keyEquivocation(ev), data)
	return s.kv.Write(&b)
}

var errStop = errors.New("stop")

func (s *KVStore) ListEquivocations(limit int) ([]types.EquivocationEvidence, error) {
	out := make([]types.EquivocationEvidence, 0)
	err := s.kv.Iterate(equivocationPrefix, func(_, value []byte) error {
		var ev types.EquivocationEvidence
		if err := json.Unmarshal(value, &ev); err != nil {
			return nil
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

func (s *KVStore) Close() error {
	return s.kv.Close()
}
