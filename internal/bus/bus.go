// Package bus is the flywheel's durable, partitioned ingestion log (§4.B).
// It wraps NATS JetStream: streams map to topics, the producer's
// partition key picks a subject suffix so a point's samples colocate on
// one partition, and durable consumers commit offsets only after the
// handler returns success (§5 "offset management").
package bus

import "context"

// Topic names the required streams (§4.B).
const (
	TopicRawSamples     = "datapoints.raw"
	TopicBehavior       = "points.behavior"
	TopicCorrelations   = "correlations.updated"
	TopicClusters       = "clusters.created"
	TopicSuggestions    = "suggestions.created"
	TopicFeedback       = "patterns.feedback"
	TopicPatternUpdates = "patterns.updated"
	TopicDLQ            = "datapoints.dlq"
)

// Message is one delivered bus message. A handler must call exactly one
// of Ack, Nak or Term before returning; Close (the orchestrator's drain
// path) treats an un-acked in-flight message as redelivered on restart.
type Message struct {
	Subject   string
	Data      []byte
	Partition int

	ackFn  func() error
	nakFn  func(delay ...any) error
	termFn func() error
}

// Ack commits the message's offset. Call only after all side effects of
// processing it have succeeded (§5).
func (m *Message) Ack() error { return m.ackFn() }

// Nak requests redelivery, typically after a TransientRemote error.
func (m *Message) Nak() error {
	if m.nakFn == nil {
		return nil
	}
	return m.nakFn()
}

// Term routes the message to permanent failure (no further redelivery)
// and commits its offset, the PoisonError policy (§7): "DLQ + commit".
func (m *Message) Term() error {
	if m.termFn == nil {
		return m.ackFn()
	}
	return m.termFn()
}

// Handler processes one delivered message. Returning an error does not by
// itself retry or terminate the message — the caller decides which of
// Ack/Nak/Term to call based on the error kind (internal/errkind).
type Handler func(ctx context.Context, msg *Message) error

// Subscription is a running consumer; Stop unsubscribes without closing
// the underlying bus connection.
type Subscription interface {
	Stop()
}

// ConsumerGroup names a set of workers sharing a durable consumer offset
// per partition; Partitions designates which subset of the topic's
// partitions this process instance owns (empty means all of them).
type ConsumerGroup struct {
	Name       string
	Partitions []int
}

// Bus is the ingestion log contract every analysis stage depends on.
// Producers key by point source-address so colocated samples preserve
// order within a partition; consumers subscribe with an explicit
// ConsumerGroup and commit offsets via the delivered Message.
type Bus interface {
	// Publish appends data to topic, routed to a partition derived from
	// key (empty key publishes to partition 0).
	Publish(ctx context.Context, topic, key string, data []byte) error

	// Subscribe starts a durable consumer for group against topic. The
	// handler runs for every message assigned to this group's partitions.
	Subscribe(ctx context.Context, topic string, group ConsumerGroup, handler Handler) (Subscription, error)

	// NumPartitions reports how many partitions a topic is split into.
	NumPartitions(topic string) int

	Close() error
}
