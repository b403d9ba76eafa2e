package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Prom struct {
	reg *prometheus.Registry

	SetID                prometheus.Gauge
	WitnessSent          prometheus.Counter
	VotesReceived        prometheus.Counter
	VotesAccepted        prometheus.Counter
	VotesDuplicate       prometheus.Counter
	VotesRejected        *prometheus.CounterVec
	Equivocations        prometheus.Counter
	GossipDiscarded      *prometheus.CounterVec
	SignFailures         *prometheus.CounterVec
	ProofsCompleted      prometheus.Counter
	PersistFailures      prometheus.Counter
	OpenRecords          prometheus.Gauge
	BufferedVotes        prometheus.Gauge
	NotificationsDropped prometheus.Counter
	ProofLatency         prometheus.Summary
}

func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg:             reg,
		SetID:           prometheus.NewGauge(prometheus.GaugeOpts{Name: ValidatorSetID, Help: "Active validator set id"}),
		WitnessSent:     prometheus.NewCounter(prometheus.CounterOpts{Name: WitnessSent, Help: "Votes signed and gossiped by this node"}),
		VotesReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: VotesReceived, Help: "Votes received from gossip"}),
		VotesAccepted:   prometheus.NewCounter(prometheus.CounterOpts{Name: VotesAccepted, Help: "Votes accepted into a witness record"}),
		VotesDuplicate:  prometheus.NewCounter(prometheus.CounterOpts{Name: VotesDuplicate, Help: "Votes ignored as duplicates"}),
		VotesRejected:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: VotesRejected, Help: "Votes rejected by a witness record"}, []string{"reason"}),
		Equivocations:   prometheus.NewCounter(prometheus.CounterOpts{Name: Equivocations, Help: "Equivocating votes detected"}),
		GossipDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{Name: GossipDiscarded, Help: "Gossip messages discarded"}, []string{"reason"}),
		SignFailures:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: SignFailures, Help: "Local signing failures"}, []string{"kind"}),
		ProofsCompleted: prometheus.NewCounter(prometheus.CounterOpts{Name: ProofsCompleted, Help: "Proofs assembled and persisted"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{Name: PersistFailures, Help: "Failed proof persistence attempts"}),
		OpenRecords:     prometheus.NewGauge(prometheus.GaugeOpts{Name: OpenRecords, Help: "Witness records awaiting quorum"}),
		BufferedVotes:   prometheus.NewGauge(prometheus.GaugeOpts{Name: BufferedVotes, Help: "Votes buffered for unknown requests"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: NotificationsDropped,
			Help: "Proof notifications dropped for slow subscribers",
		}),
		ProofLatency: prometheus.NewSummary(prometheus.SummaryOpts{Name: ProofLatency, Help: "Time from record open to proof persisted in ms"}),
	}
	reg.MustRegister(
		p.SetID, p.WitnessSent, p.VotesReceived, p.VotesAccepted, p.VotesDuplicate, p.VotesRejected,
		p.Equivocations, p.GossipDiscarded, p.SignFailures, p.ProofsCompleted, p.PersistFailures,
		p.OpenRecords, p.BufferedVotes, p.NotificationsDropped, p.ProofLatency,
	)
	return p
}

func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// Implement Provider
func (p *Prom) SetGauge(name string, value float64) {
	switch name {
	case ValidatorSetID:
		p.SetID.Set(value)
	case OpenRecords:
		p.OpenRecords.Set(value)
	case BufferedVotes:
		p.BufferedVotes.Set(value)
	}
}

func (p *Prom) IncCounter(name string, delta float64) {
	switch name {
	case WitnessSent:
		p.WitnessSent.Add(delta)
	case VotesReceived:
		p.VotesReceived.Add(delta)
	case VotesAccepted:
		p.VotesAccepted.Add(delta)
	case VotesDuplicate:
		p.VotesDuplicate.Add(delta)
	case Equivocations:
		p.Equivocations.Add(delta)
	case ProofsCompleted:
		p.ProofsCompleted.Add(delta)
	case PersistFailures:
		p.PersistFailures.Add(delta)
	case NotificationsDropped:
		p.NotificationsDropped.Add(delta)
	}
}

func (p *Prom) IncLabeled(name, label string) {
	switch name {
	case GossipDiscarded:
		p.GossipDiscarded.WithLabelValues(label).Inc()
	case SignFailures:
		p.SignFailures.WithLabelValues(label).Inc()
	case VotesRejected:
		p.VotesRejected.WithLabelValues(label).Inc()
	}
}

// Observe supports selected summaries/histograms
func (p *Prom) Observe(name string, value float64) {
	switch name {
	case ProofLatency:
		p.ProofLatency.Observe(value)
	default:
		// ignore unknown for now
	}
}
