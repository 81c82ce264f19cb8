package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var mu sync.Mutex
	var received []string

	_, err := b.Subscribe(ctx, TopicRawSamples, ConsumerGroup{Name: "g1"}, func(_ context.Context, msg *Message) error {
		mu.Lock()
		received = append(received, string(msg.Data))
		mu.Unlock()
		return msg.Ack()
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicRawSamples, "sensor-1", []byte("a")))
	require.NoError(t, b.Publish(ctx, TopicRawSamples, "sensor-2", []byte("b")))

	assert.ElementsMatch(t, []string{"a", "b"}, received)
}

func TestMemoryBusPartitionAssignmentFiltersMessages(t *testing.T) {
	b := NewMemoryBus()
	b.SetPartitions(TopicRawSamples, 4)
	ctx := context.Background()

	key := "sensor-1"
	want := Partition(key, 4)

	var got []int
	_, err := b.Subscribe(ctx, TopicRawSamples, ConsumerGroup{Name: "g1", Partitions: []int{want}}, func(_ context.Context, msg *Message) error {
		got = append(got, msg.Partition)
		return msg.Ack()
	})
	require.NoError(t, err)

	other := (want + 1) % 4
	_, err = b.Subscribe(ctx, TopicRawSamples, ConsumerGroup{Name: "g2", Partitions: []int{other}}, func(_ context.Context, msg *Message) error {
		t.Errorf("message for partition %d delivered to subscriber owning partition %d", msg.Partition, other)
		return msg.Ack()
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TopicRawSamples, key, []byte("x")))
	assert.Equal(t, []int{want}, got)
}

func TestPartitionIsStablePerKey(t *testing.T) {
	a := Partition("sensor-17", 8)
	b2 := Partition("sensor-17", 8)
	assert.Equal(t, a, b2)
}

func TestPartitionEmptyKeyIsZero(t *testing.T) {
	assert.Equal(t, 0, Partition("", 8))
}
