package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fieldflywheel/ingest-flywheel/pkg/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const defaultPartitions = 8

// JetStreamConfig tunes per-topic partition counts; topics absent from
// Partitions fall back to defaultPartitions.
type JetStreamConfig struct {
	Partitions map[string]int
}

// JetStreamBus implements Bus on top of a NATS JetStream connection. Each
// topic is its own stream with subjects "<topic>.<partition>"; each
// ConsumerGroup partition owns a dedicated durable pull consumer so that
// delivery within a partition stays strictly ordered to a single worker.
type JetStreamBus struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg JetStreamConfig

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

// NewJetStreamBus wraps an already-connected NATS connection.
func NewJetStreamBus(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamBus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &JetStreamBus{
		nc:      nc,
		js:      js,
		cfg:     cfg,
		streams: make(map[string]jetstream.Stream),
	}, nil
}

func (b *JetStreamBus) NumPartitions(topic string) int {
	if n, ok := b.cfg.Partitions[topic]; ok && n > 0 {
		return n
	}
	return defaultPartitions
}

func streamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

func (b *JetStreamBus) ensureStream(ctx context.Context, topic string) (jetstream.Stream, error) {
	b.mu.Lock()
	if s, ok := b.streams[topic]; ok {
		b.mu.Unlock()
		return s, nil
	}
	b.mu.Unlock()

	s, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName(topic),
		Subjects:  []string{topic + ".*"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    30 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", topic, err)
	}

	b.mu.Lock()
	b.streams[topic] = s
	b.mu.Unlock()
	return s, nil
}

func (b *JetStreamBus) Publish(ctx context.Context, topic, key string, data []byte) error {
	if _, err := b.ensureStream(ctx, topic); err != nil {
		return err
	}
	n := b.NumPartitions(topic)
	p := Partition(key, n)
	subject := fmt.Sprintf("%s.%d", topic, p)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func durableName(group string, partition int) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, group)
	return fmt.Sprintf("%s_p%d", safe, partition)
}

func (b *JetStreamBus) Subscribe(ctx context.Context, topic string, group ConsumerGroup, handler Handler) (Subscription, error) {
	stream, err := b.ensureStream(ctx, topic)
	if err != nil {
		return nil, err
	}

	partitions := group.Partitions
	if len(partitions) == 0 {
		n := b.NumPartitions(topic)
		partitions = make([]int, n)
		for i := range partitions {
			partitions[i] = i
		}
	}

	sub := &jetstreamSubscription{}
	for _, p := range partitions {
		subject := fmt.Sprintf("%s.%d", topic, p)
		cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       durableName(group.Name, p),
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverAllPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    -1,
		})
		if err != nil {
			sub.Stop()
			return nil, fmt.Errorf("create consumer %s: %w", subject, err)
		}

		partition := p
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			m := &Message{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Partition: partition,
				ackFn:     msg.Ack,
				nakFn:     func(_ ...any) error { return msg.Nak() },
				termFn:    func() error { return msg.Term() },
			}
			if err := handler(ctx, m); err != nil {
				log.Errorf("bus: handler for %s failed: %v", subject, err)
			}
		})
		if err != nil {
			sub.Stop()
			return nil, fmt.Errorf("consume %s: %w", subject, err)
		}
		sub.contexts = append(sub.contexts, cc)
	}

	return sub, nil
}

func (b *JetStreamBus) Close() error {
	b.nc.Close()
	return nil
}

type jetstreamSubscription struct {
	contexts []jetstream.ConsumeContext
}

func (s *jetstreamSubscription) Stop() {
	for _, cc := range s.contexts {
		cc.Stop()
	}
}
