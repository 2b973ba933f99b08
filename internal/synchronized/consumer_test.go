package synchronized_test

import (
	"context"
	"testing"
	"time"

	"github.com/ruezetle/snuba/internal/commitlog"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/streamstest"
	"github.com/ruezetle/snuba/internal/synchronized"
)

func TestSynchronizedConsumer_GatesOnCommitLog(t *testing.T) {
	broker := streamstest.NewBroker()
	broker.EnsureTopic("A", 1)
	broker.EnsureTopic(commitlog.DefaultTopic, 1)

	passthrough := streams.PassthroughCodec{}
	commitCodec := commitlog.Codec{}

	producer := streamstest.NewProducer[streams.KafkaPayload](broker, passthrough, nil)
	for i := 0; i < 5; i++ {
		producer.Produce(context.Background(), streams.ToTopic(streams.Topic{Name: "A"}), streams.KafkaPayload{Value: []byte{byte(i)}})
	}

	primary := streamstest.NewConsumer[streams.KafkaPayload](broker, "primary-group", passthrough, streams.ResetEarliest, false)
	commitLogConsumer := streamstest.NewConsumer[commitlog.Commit](broker, "ephemeral-sync-1", commitCodec, streams.ResetEarliest, false)

	sc := synchronized.New[streams.KafkaPayload](primary, commitLogConsumer, []string{"G1"}, nil)
	if err := sc.Subscribe(context.Background(), []string{"A"}, nil, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		msg, err := sc.Poll(ctx, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if msg != nil {
			t.Fatalf("expected no message before commit-log progress, got offset %d", msg.Offset)
		}
	}

	commitProducer := streamstest.NewProducer[commitlog.Commit](broker, commitCodec, nil)
	fut := commitProducer.Produce(ctx, streams.ToTopic(streams.Topic{Name: commitlog.DefaultTopic}), commitlog.Commit{
		Group:     "G1",
		Partition: streams.Partition{Topic: streams.Topic{Name: "A"}, Index: 0},
		Offset:    3,
	})
	if _, err := fut.Result(ctx); err != nil {
		t.Fatalf("produce commit: %v", err)
	}

	var delivered []uint64
	for i := 0; i < 10; i++ {
		msg, err := sc.Poll(ctx, 5*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if msg == nil {
			break
		}
		delivered = append(delivered, msg.Offset)
	}

	if len(delivered) != 3 {
		t.Fatalf("expected exactly 3 messages delivered (offsets 0,1,2), got %v", delivered)
	}
	for i, off := range delivered {
		if off != uint64(i) {
			t.Fatalf("expected offset %d at position %d, got %d", i, i, off)
		}
	}

	msg, err := sc.Poll(ctx, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if msg != nil {
		t.Fatalf("expected partition to pause again after offset 2, got %d", msg.Offset)
	}
}
