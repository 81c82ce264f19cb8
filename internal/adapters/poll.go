package adapters

import (
	"context"
	"math/rand"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/internal/errkind"
	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// PollSource is the subset of CurrentReader a PollAdapter actually needs,
// named separately so tests can supply a minimal fake.
type PollSource interface {
	ReadCurrent(ctx context.Context, addresses []string) (map[string]model.RawSample, error)
}

// PollAdapter periodically reads a fixed address list and emits one batch
// per successful poll (§4.A "Polling adapters run a periodic loop").
type PollAdapter struct {
	name         string
	dataSourceID uuid.UUID
	source       PollSource
	addresses    []string
	interval     time.Duration
	maxBackoff   time.Duration

	emit func(model.RawSampleBatch)
}

func NewPollAdapter(name string, dataSourceID uuid.UUID, source PollSource, addresses []string, interval, maxBackoff time.Duration, emit func(model.RawSampleBatch)) *PollAdapter {
	return &PollAdapter{
		name: name, dataSourceID: dataSourceID, source: source,
		addresses: addresses, interval: interval, maxBackoff: maxBackoff, emit: emit,
	}
}

func (a *PollAdapter) Name() string         { return a.name }
func (a *PollAdapter) DataSourceID() string { return a.dataSourceID.String() }

// Run drives the poll loop until ctx is cancelled. A poll that exceeds its
// interval fires the next poll immediately, with a warning, rather than
// waiting for the next tick (§4.A). Transient errors back off
// exponentially with jitter, capped at maxBackoff; the backoff resets
// after any successful poll.
func (a *PollAdapter) Run(ctx context.Context) error {
	backoff := a.interval
	for {
		start := time.Now()
		err := a.pollOnce(ctx)
		elapsed := time.Since(start)

		if err != nil {
			if _, transient := asTransient(err); transient {
				log.Warnf("adapter %s: poll failed, backing off: %v", a.name, err)
				if err := sleepCtx(ctx, jitter(backoff)); err != nil {
					return errkind.Cancelled(a.name)
				}
				backoff = nextBackoff(backoff, a.maxBackoff)
				continue
			}
			return err
		}
		backoff = a.interval

		if elapsed >= a.interval {
			log.Warnf("adapter %s: poll took %s, exceeding interval %s; firing next poll immediately", a.name, elapsed, a.interval)
			continue
		}

		if err := sleepCtx(ctx, a.interval-elapsed); err != nil {
			return errkind.Cancelled(a.name)
		}
	}
}

func (a *PollAdapter) pollOnce(ctx context.Context) error {
	values, err := a.source.ReadCurrent(ctx, a.addresses)
	if err != nil {
		return errkind.Transient(a.name+".ReadCurrent", err)
	}

	batch := model.RawSampleBatch{
		BatchID:      uuid.New(),
		DataSourceID: a.dataSourceID,
		ProducedAt:   time.Now().UTC(),
	}
	for _, addr := range a.addresses {
		if rs, ok := values[addr]; ok {
			batch.Points = append(batch.Points, rs)
		}
	}
	if len(batch.Points) > 0 {
		a.emit(batch)
	}
	return nil
}

func asTransient(err error) (*errkind.TransientRemoteError, bool) {
	te, ok := err.(*errkind.TransientRemoteError)
	return te, ok
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
