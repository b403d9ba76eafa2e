package metrics

// Provider is the instrumentation port. Implementations must never affect
// control flow.
type Provider interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
	Observe(name string, value float64)
	// IncLabeled increments a counter vector entry such as a discard reason.
	IncLabeled(name, label string)
}

// Metric names understood by Prom.
const (
	ValidatorSetID       = "ethy_validator_set_id"
	WitnessSent          = "ethy_witness_sent_total"
	VotesReceived        = "ethy_votes_received_total"
	VotesAccepted        = "ethy_votes_accepted_total"
	VotesDuplicate       = "ethy_votes_duplicate_total"
	VotesRejected        = "ethy_votes_rejected_total"
	Equivocations        = "ethy_equivocations_total"
	GossipDiscarded      = "ethy_gossip_discarded_total"
	SignFailures         = "ethy_sign_failures_total"
	ProofsCompleted      = "ethy_proofs_completed_total"
	PersistFailures      = "ethy_persist_failures_total"
	OpenRecords          = "ethy_open_records"
	BufferedVotes        = "ethy_buffered_votes"
	NotificationsDropped = "ethy_notifications_dropped_total"
	ProofLatency         = "ethy_proof_latency_ms"
)

type Noop struct{}

func (Noop) SetGauge(string, float64)   {}
func (Noop) IncCounter(string, float64) {}
func (Noop) Observe(string, float64)    {}
func (Noop) IncLabeled(string, string)  {}
