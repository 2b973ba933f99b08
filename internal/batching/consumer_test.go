package batching_test

import (
	"context"
	"testing"
	"time"

	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/streams"
	"github.com/ruezetle/snuba/internal/streams/streamstest"
)

type upperCaseWorker struct {
	flushed [][]batching.BatchItem[string]
}

func (w *upperCaseWorker) ProcessMessage(msg streams.Message[string]) (string, bool, error) {
	if msg.Payload == "skip" {
		return "", false, nil
	}
	return msg.Payload + "!", true, nil
}

func (w *upperCaseWorker) FlushBatch(batch []batching.BatchItem[string]) error {
	cp := append([]batching.BatchItem[string](nil), batch...)
	w.flushed = append(w.flushed, cp)
	return nil
}

func TestBatchingConsumer_FlushesOnMaxBatchSize(t *testing.T) {
	broker := streamstest.NewBroker()
	broker.EnsureTopic("events", 1)
	stringCodec := stringCodecAdapter{}

	producer := streamstest.NewProducer[string](broker, stringCodec, nil)
	for _, v := range []string{"a", "b", "skip", "c"} {
		producer.Produce(context.Background(), streams.Destination{Topic: streams.Topic{Name: "events"}}, v)
	}

	consumer := streamstest.NewConsumer[string](broker, "test-group", stringCodec, streams.ResetEarliest, true)
	worker := &upperCaseWorker{}
	cfg := batching.Config{MaxBatchSize: 3, MaxBatchTime: time.Hour, PollTimeout: 20 * time.Millisecond}
	bc := batching.New[string, string](consumer, []string{"events"}, worker, cfg, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bc.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(worker.flushed) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for first flush")
		case <-time.After(10 * time.Millisecond):
		}
	}

	bc.SignalShutdown()
	cancel()
	<-done

	if len(worker.flushed) == 0 {
		t.Fatal("expected at least one flush")
	}
	first := worker.flushed[0]
	if len(first) != 3 {
		t.Fatalf("expected first flush to contain 3 items (skip filtered out), got %d", len(first))
	}
	if first[0].Value != "a!" || first[1].Value != "b!" || first[2].Value != "c!" {
		t.Fatalf("unexpected flushed values: %+v", first)
	}

	offset, ok := broker.CommittedOffset("test-group", streams.Partition{Topic: streams.Topic{Name: "events"}, Index: 0})
	if !ok || offset != 4 {
		t.Fatalf("expected committed offset 4 (including skipped message), got %d ok=%v", offset, ok)
	}
}

// stringCodecAdapter adapts the plain string payload type used by this test
// to streams.Codec[string] so streamstest's KafkaPayload-based broker can
// carry it.
type stringCodecAdapter struct{}

func (stringCodecAdapter) Decode(raw streams.KafkaPayload) (string, error) {
	return string(raw.Value), nil
}

func (stringCodecAdapter) Encode(v string) (streams.KafkaPayload, error) {
	return streams.KafkaPayload{Value: []byte(v)}, nil
}
