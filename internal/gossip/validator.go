package gossip

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"proofnet/internal/logging"
	"proofnet/internal/types"
	"proofnet/internal/wire"
)

// Action tells the transport what to do with an inbound message.
type Action int

const (
	Discard Action = iota
	KeepAndRebroadcast
	KeepOnly
)

func (a Action) String() string {
	switch a {
	case Discard:
		return "discard"
	case KeepAndRebroadcast:
		return "keep_and_rebroadcast"
	case KeepOnly:
		return "keep_only"
	default:
		return "unknown"
	}
}

// Reason labels a Discard.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformed        Reason = "malformed"
	ReasonStaleSet         Reason = "stale_set"
	ReasonUnknownValidator Reason = "unknown_validator"
	ReasonDuplicate        Reason = "duplicate"
	ReasonCompleted        Reason = "completed"
	ReasonTopicMismatch    Reason = "topic_mismatch"
	ReasonFutureSet        Reason = "future_set"
)

// Result of Validate. Vote and ID are only populated when the message was
// kept. ID is the dedup key to hand back to Forget.
type Result struct {
	Action Action
	Reason Reason
	Vote   types.Vote
	ID     MessageID
}

// MessageID is the blake3 digest of a raw vote.
type MessageID [32]byte

func discard(r Reason) Result { return Result{Action: Discard, Reason: r} }

// ValidatorConfig bounds the admission caches.
type ValidatorConfig struct {
	// RetentionWindow is how many set ids behind the active one still admit votes.
	RetentionWindow uint64
	// FutureWindow is how many set ids ahead of the active one are kept
	// locally before the set is known.
	FutureWindow  uint64
	SeenCacheSize int
	// CompletedCacheSize bounds the persisted request ids remembered.
	CompletedCacheSize int
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		RetentionWindow:    1,
		FutureWindow:       1,
		SeenCacheSize:      8192,
		CompletedCacheSize: 500,
	}
}

// Validator is the network-side admission filter for votes. It does not
// verify signatures; the witness record does that authoritatively.
type Validator struct {
	cfg    ValidatorConfig
	logger logging.Logger

	mu        sync.RWMutex
	hasActive bool
	active    types.SetID
	sizes     map[types.SetID]int

	seen      *lru.Cache[MessageID, struct{}]
	persisted *lru.Cache[uint64, struct{}]
}

func NewValidator(cfg ValidatorConfig, logger logging.Logger) (*Validator, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	def := DefaultValidatorConfig()
	if cfg.FutureWindow == 0 {
		cfg.FutureWindow = def.FutureWindow
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = def.SeenCacheSize
	}
	if cfg.CompletedCacheSize <= 0 {
		cfg.CompletedCacheSize = def.CompletedCacheSize
	}
	seen, err := lru.New[MessageID, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, err
	}
	persisted, err := lru.New[uint64, struct{}](cfg.CompletedCacheSize)
	if err != nil {
		return nil, err
	}
	return &Validator{
		cfg:       cfg,
		logger:    logger,
		sizes:     make(map[types.SetID]int),
		seen:      seen,
		persisted: persisted,
	}, nil
}

// SetActive installs set as the active validator set. Sets older than the
// current one are ignored.
func (v *Validator) SetActive(set *types.ValidatorSet) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hasActive && set.ID < v.active {
		return false
	}
	v.hasActive = true
	v.active = set.ID
	v.sizes[set.ID] = set.Len()
	for id := range v.sizes {
		if v.stale(id) {
			delete(v.sizes, id)
		}
	}
	v.logger.Info("Gossip active validator set", "set_id", set.ID, "validators", set.Len())
	return true
}

// Active returns the active set id.
func (v *Validator) Active() (types.SetID, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active, v.hasActive
}

func (v *Validator) stale(id types.SetID) bool {
	return id < v.active && uint64(v.active-id) > v.cfg.RetentionWindow
}

// Validate decides whether raw, received on topic, should be processed and
// forwarded. Only kept messages enter the dedup cache.
func (v *Validator) Validate(topic Topic, raw []byte) Result {
	vote, err := wire.DecodeVote(raw)
	if err != nil {
		return discard(ReasonMalformed)
	}
	if topic.RequestID() != vote.RequestID {
		return discard(ReasonTopicMismatch)
	}
	id := MessageID(blake3.Sum256(raw))
	if v.seen.Contains(id) {
		return discard(ReasonDuplicate)
	}
	if v.persisted.Contains(vote.RequestID) {
		return discard(ReasonCompleted)
	}

	v.mu.RLock()
	hasActive, active := v.hasActive, v.active
	stale := v.stale(vote.SetID)
	size, known := v.sizes[vote.SetID]
	v.mu.RUnlock()

	if hasActive && vote.SetID > active && uint64(vote.SetID-active) > v.cfg.FutureWindow {
		return discard(ReasonFutureSet)
	}
	if !hasActive || vote.SetID > active {
		// future set: process locally once we learn it, do not relay
		v.seen.Add(id, struct{}{})
		return Result{Action: KeepOnly, Vote: vote, ID: id}
	}
	if stale {
		return discard(ReasonStaleSet)
	}
	if known && int(vote.ValidatorIndex) >= size {
		return discard(ReasonUnknownValidator)
	}
	v.seen.Add(id, struct{}{})
	return Result{Action: KeepAndRebroadcast, Vote: vote, ID: id}
}

// Forget removes id from the dedup cache so the same bytes are admitted
// again, e.g. after the vote was evicted from a local buffer.
func (v *Validator) Forget(id MessageID) {
	v.seen.Remove(id)
}

// MarkPersisted records that the proof for requestID is durably stored.
func (v *Validator) MarkPersisted(requestID uint64) {
	v.persisted.Add(requestID, struct{}{})
}

// Expire reports whether traffic on topic may be garbage collected. It is
// only true after MarkPersisted.
func (v *Validator) Expire(topic Topic) bool {
	return v.persisted.Contains(topic.RequestID())
}
