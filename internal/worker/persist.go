package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"proofnet/internal/metrics"
	"proofnet/internal/storage"
	"proofnet/internal/types"
)

// persist stores p, retrying with exponential backoff until it succeeds,
// the store reports a conflicting proof, or ctx ends.
func (w *Worker) persist(ctx context.Context, p *types.Proof) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.PersistInitialInterval
	eb.MaxInterval = w.cfg.PersistMaxInterval

	op := func() (struct{}, error) {
		err := w.store.PutProof(p)
		if errors.Is(err, storage.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, next time.Duration) {
		w.metrics.IncCounter(metrics.PersistFailures, 1)
		w.logger.Warn("Failed to persist proof, retrying",
			"request_id", p.RequestID,
			"retry_in", next,
			"error", err)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}
