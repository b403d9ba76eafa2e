package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromProvider(t *testing.T) {
	p := NewProm()
	var _ Provider = p

	p.SetGauge(ValidatorSetID, 7)
	p.IncCounter(WitnessSent, 2)
	p.IncLabeled(GossipDiscarded, "stale_set")
	p.IncLabeled(GossipDiscarded, "stale_set")
	p.IncCounter("unknown", 1)

	assert.Equal(t, 7.0, testutil.ToFloat64(p.SetID))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.WitnessSent))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.GossipDiscarded.WithLabelValues("stale_set")))
}

func TestPromRejectedVotesByReason(t *testing.T) {
	p := NewProm()
	p.IncLabeled(VotesRejected, "bad_signature")
	p.IncLabeled(VotesRejected, "set_mismatch")
	p.IncLabeled(VotesRejected, "bad_signature")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.VotesRejected.WithLabelValues("bad_signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.VotesRejected.WithLabelValues("set_mismatch")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.VotesRejected))
}

func TestPromHandler(t *testing.T) {
	p := NewProm()
	p.IncCounter(ProofsCompleted, 1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "ethy_proofs_completed_total 1"))
}

func TestNoop(t *testing.T) {
	var p Provider = Noop{}
	p.SetGauge(OpenRecords, 1)
	p.IncLabeled(SignFailures, "backend")
}
