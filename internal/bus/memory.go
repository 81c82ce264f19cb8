package bus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus used by component tests. It fans out
// published messages to every subscribed ConsumerGroup, partitioned the
// same way JetStreamBus partitions subjects, so partition-ordering tests
// can run without a NATS server.
type MemoryBus struct {
	mu          sync.Mutex
	partitions  map[string]int
	subscribers map[string][]*memorySub // topic -> subs
	closed      bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		partitions:  make(map[string]int),
		subscribers: make(map[string][]*memorySub),
	}
}

// SetPartitions overrides a topic's partition count before first use;
// defaults to defaultPartitions otherwise.
func (b *MemoryBus) SetPartitions(topic string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partitions[topic] = n
}

func (b *MemoryBus) NumPartitions(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.partitions[topic]; ok && n > 0 {
		return n
	}
	return defaultPartitions
}

type memorySub struct {
	group      ConsumerGroup
	partitions map[int]bool
	handler    Handler
	stopped    bool
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, data []byte) error {
	n := b.NumPartitions(topic)
	p := Partition(key, n)

	b.mu.Lock()
	subs := append([]*memorySub(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	msgData := append([]byte(nil), data...)
	for _, s := range subs {
		if s.stopped {
			continue
		}
		if len(s.partitions) > 0 && !s.partitions[p] {
			continue
		}
		m := &Message{
			Subject:   topic,
			Data:      msgData,
			Partition: p,
			ackFn:     func() error { return nil },
			nakFn:     func(_ ...any) error { return nil },
			termFn:    func() error { return nil },
		}
		if err := s.handler(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string, group ConsumerGroup, handler Handler) (Subscription, error) {
	partitions := make(map[int]bool, len(group.Partitions))
	for _, p := range group.Partitions {
		partitions[p] = true
	}
	s := &memorySub{group: group, partitions: partitions, handler: handler}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], s)
	b.mu.Unlock()

	return s, nil
}

func (s *memorySub) Stop() { s.stopped = true }

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
