package tick_test

import (
	"context"
	"testing"
	"time"

	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/streamstest"
	"github.com/ruezetle/snuba/internal/tick"
)

func TestTickConsumer_EmitsContiguousTicks(t *testing.T) {
	broker := streamstest.NewBroker()
	broker.EnsureTopic("events", 1)
	codec := streams.PassthroughCodec{}

	t0 := time.Unix(1_700_000_000, 0).UTC()
	fixedNow := t0
	clock := func() time.Time { return fixedNow }
	producer := streamstest.NewProducer[streams.KafkaPayload](broker, codec, clock)

	for _, dt := range []time.Duration{0, 5 * time.Second, 9 * time.Second} {
		fixedNow = t0.Add(dt)
		producer.Produce(context.Background(), streams.ToTopic(streams.Topic{Name: "events"}), streams.KafkaPayload{Value: []byte("x")})
	}

	primary := streamstest.NewConsumer[streams.KafkaPayload](broker, "tick-group", codec, streams.ResetEarliest, false)
	tc := tick.New(primary)
	if err := tc.Subscribe(context.Background(), []string{"events"}, nil, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx := context.Background()
	var ticks []tick.Tick
	for i := 0; i < 5; i++ {
		msg, err := tc.Poll(ctx, 10*time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if msg != nil {
			ticks = append(ticks, msg.Payload)
		}
	}

	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks (first message only seeds state), got %d", len(ticks))
	}
	if ticks[0].Offsets != (tick.Interval[uint64]{Lower: 0, Upper: 1}) {
		t.Fatalf("unexpected offsets for tick 0: %+v", ticks[0].Offsets)
	}
	if ticks[1].Offsets != (tick.Interval[uint64]{Lower: 1, Upper: 2}) {
		t.Fatalf("unexpected offsets for tick 1: %+v", ticks[1].Offsets)
	}
	if !ticks[0].Timestamps.Lower.Equal(t0) || !ticks[0].Timestamps.Upper.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("unexpected timestamps for tick 0: %+v", ticks[0].Timestamps)
	}
}
