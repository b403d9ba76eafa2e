// Package worker drives proof assembly. A single goroutine consumes
// finalized blocks, inbound gossip votes and timers, and is the only
// writer of witness records.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"proofnet/internal/chain"
	"proofnet/internal/crypto"
	"proofnet/internal/gossip"
	"proofnet/internal/logging"
	"proofnet/internal/metrics"
	"proofnet/internal/notify"
	"proofnet/internal/storage"
	"proofnet/internal/types"
	"proofnet/internal/wire"
	"proofnet/internal/witness"
)

// Config tunes the worker's timers and limits.
type Config struct {
	Policy types.ThresholdPolicy
	// RetentionWindow is how many set ids behind the active one still
	// accept new records.
	RetentionWindow  uint64
	MaxBufferedVotes int

	RetryInterval       time.Duration
	RebroadcastInterval time.Duration
	BackfillTimeout     time.Duration

	PersistInitialInterval time.Duration
	PersistMaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:                 types.DefaultThresholdPolicy(),
		RetentionWindow:        1,
		MaxBufferedVotes:       4096,
		RetryInterval:          2 * time.Second,
		RebroadcastInterval:    10 * time.Second,
		BackfillTimeout:        5 * time.Second,
		PersistInitialInterval: 100 * time.Millisecond,
		PersistMaxInterval:     10 * time.Second,
	}
}

// Deps are the collaborators handed to the worker at construction.
type Deps struct {
	Source    chain.Source
	Transport gossip.Transport
	Gossip    *gossip.Validator
	Keystore  crypto.Keystore
	Store     storage.Store
	Broker    *notify.Broker
	Metrics   metrics.Provider
	Clock     clock.Clock
	Logger    logging.Logger
}

type Worker struct {
	cfg Config

	source    chain.Source
	transport gossip.Transport
	gossip    *gossip.Validator
	keystore  crypto.Keystore
	store     storage.Store
	broker    *notify.Broker
	metrics   metrics.Provider
	clock     clock.Clock
	logger    logging.Logger

	book   *witness.Book
	sets   map[types.SetID]*types.ValidatorSet
	active *types.ValidatorSet

	lastBlock uint64
	hasBlock  bool

	buffer *voteBuffer
	// own holds this node's encoded vote per open request, for rebroadcast.
	own map[uint64][]byte
	// retry lists requests whose own vote hit a signing backend failure.
	retry map[uint64]struct{}
}

func New(cfg Config, deps Deps) (*Worker, error) {
	if deps.Source == nil || deps.Transport == nil || deps.Gossip == nil || deps.Store == nil {
		return nil, errors.New("worker: source, transport, gossip validator and store are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	def := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.RebroadcastInterval <= 0 {
		cfg.RebroadcastInterval = def.RebroadcastInterval
	}
	if cfg.BackfillTimeout <= 0 {
		cfg.BackfillTimeout = def.BackfillTimeout
	}
	if cfg.PersistInitialInterval <= 0 {
		cfg.PersistInitialInterval = def.PersistInitialInterval
	}
	if cfg.PersistMaxInterval <= 0 {
		cfg.PersistMaxInterval = def.PersistMaxInterval
	}
	if cfg.MaxBufferedVotes <= 0 {
		cfg.MaxBufferedVotes = def.MaxBufferedVotes
	}
	if deps.Keystore == nil {
		deps.Keystore = crypto.NewMemoryKeystore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	if deps.Broker == nil {
		deps.Broker = notify.NewBroker(deps.Metrics)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Component("worker")
	}

	return &Worker{
		cfg:       cfg,
		source:    deps.Source,
		transport: deps.Transport,
		gossip:    deps.Gossip,
		keystore:  deps.Keystore,
		store:     deps.Store,
		broker:    deps.Broker,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
		book:      witness.NewBook().WithClock(deps.Clock.Now),
		sets:      make(map[types.SetID]*types.ValidatorSet),
		buffer:    newVoteBuffer(cfg.MaxBufferedVotes),
		own:       make(map[uint64][]byte),
		retry:     make(map[uint64]struct{}),
	}, nil
}

// Broker returns the notification broker proofs are published on.
func (w *Worker) Broker() *notify.Broker { return w.broker }

// Run processes events until ctx is cancelled. Proofs persisted but not yet
// published before a restart are published first.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.restore(); err != nil {
		return err
	}

	retry := w.clock.Ticker(w.cfg.RetryInterval)
	defer retry.Stop()
	rebroadcast := w.clock.Ticker(w.cfg.RebroadcastInterval)
	defer rebroadcast.Stop()

	finalized := w.source.Finalized()
	messages := w.transport.Messages()

	w.logger.Info("Worker started",
		"retry_interval", w.cfg.RetryInterval,
		"rebroadcast_interval", w.cfg.RebroadcastInterval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped", "open_records", w.book.Len())
			return nil

		case b, ok := <-finalized:
			if !ok {
				w.logger.Warn("Finality stream closed")
				finalized = nil
				continue
			}
			w.handleBlock(ctx, b)

		case m, ok := <-messages:
			if !ok {
				w.logger.Warn("Gossip transport closed")
				messages = nil
				continue
			}
			w.handleMessage(ctx, m)

		case <-retry.C:
			w.retrySigning(ctx)

		case <-rebroadcast.C:
			w.rebroadcast(ctx)
		}
	}
}

// restore reinstalls the latest known validator set and publishes proofs
// whose notification did not complete before shutdown.
func (w *Worker) restore() error {
	set, err := w.store.LatestValidatorSet()
	switch {
	case err == nil:
		w.applySet(set)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("load validator set: %w", err)
	}

	pending, err := w.store.PendingNotifications()
	if err != nil {
		return fmt.Errorf("load pending notifications: %w", err)
	}
	for _, p := range pending {
		w.logger.Info("Re-publishing stored proof", "request_id", p.RequestID)
		w.publish(p)
		w.gossip.MarkPersisted(p.RequestID)
		w.book.Close(p.RequestID)
	}
	return nil
}

func (w *Worker) handleBlock(ctx context.Context, b chain.Block) {
	if w.hasBlock && b.Number <= w.lastBlock {
		w.logger.Debug("Ignoring already processed block", "number", b.Number, "last", w.lastBlock)
		return
	}
	if w.hasBlock && b.Number > w.lastBlock+1 {
		w.backfill(ctx, w.lastBlock+1, b.Number-1)
	}
	w.processBlock(ctx, b)
	w.lastBlock = b.Number
	w.hasBlock = true

	w.retrySigning(ctx)
	w.metrics.SetGauge(metrics.OpenRecords, float64(w.book.Len()))
}

// backfill fetches skipped blocks in order. Blocks the source no longer
// has are logged and skipped.
func (w *Worker) backfill(ctx context.Context, from, to uint64) {
	w.logger.Info("Backfilling skipped blocks", "from", from, "to", to)
	for n := from; n <= to; n++ {
		bctx, cancel := context.WithTimeout(ctx, w.cfg.BackfillTimeout)
		b, err := w.source.Block(bctx, n)
		cancel()
		if err != nil {
			w.logger.Warn("Failed to backfill block", "number", n, "error", err)
			continue
		}
		w.processBlock(ctx, b)
	}
}

func (w *Worker) processBlock(ctx context.Context, b chain.Block) {
	if b.ValidatorSet != nil {
		w.applySet(b.ValidatorSet)
	}
	for _, req := range b.Requests {
		w.handleRequest(ctx, req)
	}
}

func (w *Worker) applySet(set *types.ValidatorSet) {
	if w.active != nil && set.ID <= w.active.ID {
		if set.ID < w.active.ID {
			w.logger.Warn("Ignoring older validator set", "set_id", set.ID, "active", w.active.ID)
		}
		return
	}
	set = set.Clone()
	w.sets[set.ID] = set
	w.active = set
	for id := range w.sets {
		if w.staleSet(id) {
			delete(w.sets, id)
		}
	}
	w.forget(w.buffer.dropWhere(func(v types.Vote) bool { return w.staleSet(v.SetID) }))
	w.metrics.SetGauge(metrics.BufferedVotes, float64(w.buffer.len()))
	w.abandonStale()

	w.gossip.SetActive(set)
	w.metrics.SetGauge(metrics.ValidatorSetID, float64(set.ID))
	if err := w.store.PutValidatorSet(set); err != nil {
		w.logger.Error("Failed to persist validator set", "set_id", set.ID, "error", err)
	}
	w.logger.Info("Validator set activated", "set_id", set.ID, "validators", set.Len())
}

// abandonStale releases open records whose set fell out of the retention
// window. They can no longer collect votes.
func (w *Worker) abandonStale() {
	for _, rec := range w.book.Pending() {
		if !w.staleSet(rec.SetID()) {
			continue
		}
		id := rec.Request().RequestID
		w.book.Abandon(id)
		delete(w.own, id)
		delete(w.retry, id)
		w.logger.Warn("Abandoned record of stale validator set",
			"request_id", id,
			"set_id", rec.SetID(),
			"votes", rec.Count(),
			"threshold", rec.Threshold())
	}
	w.metrics.SetGauge(metrics.OpenRecords, float64(w.book.Len()))
}

func (w *Worker) forget(ids []gossip.MessageID) {
	for _, id := range ids {
		w.gossip.Forget(id)
	}
}

// lookupSet finds a retained set, falling back to the store for sets that
// were activated before a restart.
func (w *Worker) lookupSet(id types.SetID) (*types.ValidatorSet, bool) {
	if set, ok := w.sets[id]; ok {
		return set, true
	}
	if w.staleSet(id) {
		return nil, false
	}
	set, err := w.store.GetValidatorSet(id)
	if err != nil {
		return nil, false
	}
	w.sets[id] = set
	return set, true
}

func (w *Worker) staleSet(id types.SetID) bool {
	return w.active != nil && id < w.active.ID && uint64(w.active.ID-id) > w.cfg.RetentionWindow
}

func (w *Worker) handleRequest(ctx context.Context, req types.WitnessRequest) {
	id := req.RequestID
	if w.book.IsCompleted(id) {
		return
	}
	if _, ok := w.book.Get(id); ok {
		return
	}
	stored, err := w.store.HasProof(id)
	if err != nil {
		w.logger.Error("Failed to check stored proof", "request_id", id, "error", err)
	}
	if stored {
		w.logger.Debug("Proof already stored", "request_id", id)
		w.book.Close(id)
		w.gossip.MarkPersisted(id)
		w.buffer.take(id)
		return
	}

	set, ok := w.lookupSet(req.SetID)
	if !ok {
		w.logger.Warn("No validator set for request", "request_id", id, "set_id", req.SetID)
		return
	}
	threshold := set.RequiredSignatures(req.ChainID, w.cfg.Policy)
	rec, created, err := w.book.Open(req, set, threshold)
	if err != nil {
		w.logger.Warn("Failed to open witness record", "request_id", id, "error", err)
		return
	}
	if !created {
		return
	}
	w.logger.Debug("Witness record opened",
		"request_id", id,
		"chain", req.ChainID,
		"set_id", req.SetID,
		"threshold", threshold)

	w.signOwn(ctx, rec)

	buffered := w.buffer.take(id)
	w.metrics.SetGauge(metrics.BufferedVotes, float64(w.buffer.len()))
	for _, v := range buffered {
		rec, ok := w.book.Get(id)
		if !ok {
			break
		}
		w.insert(ctx, rec, v)
	}
}

// signOwn casts this node's vote on rec if it holds an eligible key.
func (w *Worker) signOwn(ctx context.Context, rec *witness.Record) {
	req := rec.Request()
	set := rec.ValidatorSet()
	signers := set.Validators
	if req.ChainID == types.ChainXRPL {
		signers = set.XRPLSigners
	}
	pub, ok := w.keystore.AuthorityKey(signers)
	if !ok {
		delete(w.retry, req.RequestID)
		return
	}
	idx, _ := set.IndexOf(pub)
	if rec.HasVote(idx) {
		delete(w.retry, req.RequestID)
		return
	}

	digest, err := crypto.Digest(req.ChainID, req.Payload, pub)
	if err != nil {
		w.logger.Error("Failed to compute digest", "request_id", req.RequestID, "error", err)
		delete(w.retry, req.RequestID)
		return
	}
	sig, err := w.keystore.Sign(ctx, pub, digest)
	switch {
	case errors.Is(err, crypto.ErrKeyNotFound):
		w.metrics.IncLabeled(metrics.SignFailures, "key_not_found")
		w.logger.Warn("Signing key missing, abstaining", "request_id", req.RequestID)
		delete(w.retry, req.RequestID)
		return
	case err != nil:
		w.metrics.IncLabeled(metrics.SignFailures, "backend")
		w.logger.Warn("Signing failed, will retry", "request_id", req.RequestID, "error", err)
		w.retry[req.RequestID] = struct{}{}
		return
	}
	delete(w.retry, req.RequestID)

	vote := types.Vote{
		RequestID:      req.RequestID,
		SetID:          set.ID,
		ValidatorIndex: idx,
		Signature:      sig,
		PayloadDigest:  digest[:],
	}
	raw := wire.EncodeVote(vote)
	w.own[req.RequestID] = raw

	outcome, err := rec.InsertVote(vote)
	if err != nil {
		w.logger.Error("Own vote rejected", "request_id", req.RequestID, "error", err)
		return
	}
	if err := w.transport.Broadcast(ctx, gossip.TopicFor(req.RequestID), raw); err != nil {
		w.logger.Warn("Failed to broadcast vote", "request_id", req.RequestID, "error", err)
	} else {
		w.metrics.IncCounter(metrics.WitnessSent, 1)
	}
	if outcome == witness.QuorumReached {
		w.finish(ctx, rec)
	}
}

func (w *Worker) handleMessage(ctx context.Context, m gossip.Message) {
	w.metrics.IncCounter(metrics.VotesReceived, 1)
	res := w.gossip.Validate(m.Topic, m.Data)
	if res.Action == gossip.Discard {
		w.metrics.IncLabeled(metrics.GossipDiscarded, string(res.Reason))
		return
	}
	if res.Action == gossip.KeepAndRebroadcast {
		if err := w.transport.Broadcast(ctx, m.Topic, m.Data); err != nil {
			w.logger.Debug("Failed to relay vote", "topic", m.Topic, "error", err)
		}
	}

	v := res.Vote
	rec, ok := w.book.Get(v.RequestID)
	if !ok {
		if w.book.IsCompleted(v.RequestID) {
			return
		}
		w.forget(w.buffer.add(v, res.ID))
		w.metrics.SetGauge(metrics.BufferedVotes, float64(w.buffer.len()))
		return
	}
	w.insert(ctx, rec, v)
}

func (w *Worker) insert(ctx context.Context, rec *witness.Record, v types.Vote) {
	outcome, err := rec.InsertVote(v)
	if err != nil {
		w.metrics.IncLabeled(metrics.VotesRejected, rejectReason(err))
		w.logger.Debug("Vote rejected",
			"request_id", v.RequestID,
			"validator", v.ValidatorIndex,
			"error", err)
		return
	}
	switch outcome {
	case witness.Accepted:
		w.metrics.IncCounter(metrics.VotesAccepted, 1)
	case witness.DuplicateIgnored:
		w.metrics.IncCounter(metrics.VotesDuplicate, 1)
	case witness.EquivocationDetected:
		w.metrics.IncCounter(metrics.Equivocations, 1)
		evidence := rec.Evidence()
		ev := evidence[len(evidence)-1]
		w.logger.Warn("Equivocation detected",
			"request_id", ev.RequestID,
			"set_id", ev.SetID,
			"validator", ev.ValidatorIndex)
		if err := w.store.SaveEquivocation(ev); err != nil {
			w.logger.Error("Failed to persist equivocation evidence", "request_id", ev.RequestID, "error", err)
		}
	case witness.QuorumReached:
		w.metrics.IncCounter(metrics.VotesAccepted, 1)
		w.finish(ctx, rec)
	}
}

// finish persists, publishes and retires a record that reached quorum.
func (w *Worker) finish(ctx context.Context, rec *witness.Record) {
	proof, ok := rec.TryFinalize()
	if !ok {
		return
	}
	id := proof.RequestID

	err := w.persist(ctx, proof)
	switch {
	case errors.Is(err, storage.ErrConflict):
		// Another proof won; it was stored and published earlier.
		w.logger.Error("Conflicting proof already stored", "request_id", id)
		w.retire(id)
		return
	case err != nil:
		w.logger.Warn("Proof not persisted before shutdown", "request_id", id, "error", err)
		return
	}

	w.publish(proof)
	w.retire(id)
	w.metrics.IncCounter(metrics.ProofsCompleted, 1)
	w.metrics.Observe(metrics.ProofLatency, float64(rec.CompletedAt().Sub(rec.OpenedAt()).Milliseconds()))
	w.logger.Info("Proof completed",
		"request_id", id,
		"chain", proof.ChainID,
		"set_id", proof.SetID,
		"signatures", len(proof.Signatures))
}

// publish hands p to subscribers and clears its pending marker.
func (w *Worker) publish(p *types.Proof) {
	w.broker.Publish(p)
	if err := w.store.MarkNotified(p.RequestID); err != nil {
		w.logger.Error("Failed to clear pending notification", "request_id", p.RequestID, "error", err)
	}
}

func (w *Worker) retire(id uint64) {
	w.gossip.MarkPersisted(id)
	w.book.Close(id)
	w.buffer.take(id)
	delete(w.own, id)
	delete(w.retry, id)
	w.metrics.SetGauge(metrics.OpenRecords, float64(w.book.Len()))
}

func (w *Worker) retrySigning(ctx context.Context) {
	for id := range w.retry {
		rec, ok := w.book.Get(id)
		if !ok || rec.Finalized() {
			delete(w.retry, id)
			continue
		}
		w.signOwn(ctx, rec)
	}
}

// rebroadcast re-gossips own votes for records still waiting for quorum.
func (w *Worker) rebroadcast(ctx context.Context) {
	for _, rec := range w.book.Pending() {
		id := rec.Request().RequestID
		raw, ok := w.own[id]
		if !ok {
			continue
		}
		topic := gossip.TopicFor(id)
		if w.gossip.Expire(topic) {
			continue
		}
		if err := w.transport.Broadcast(ctx, topic, raw); err != nil {
			w.logger.Debug("Failed to rebroadcast vote", "request_id", id, "error", err)
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, witness.ErrRequestMismatch):
		return "request_mismatch"
	case errors.Is(err, witness.ErrSetMismatch):
		return "set_mismatch"
	case errors.Is(err, witness.ErrUnknownValidator):
		return "unknown_validator"
	case errors.Is(err, witness.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, witness.ErrDigestMismatch):
		return "digest_mismatch"
	case errors.Is(err, witness.ErrCompleted):
		return "completed"
	default:
		return "other"
	}
}
