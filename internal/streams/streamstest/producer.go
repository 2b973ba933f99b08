package streamstest

import (
	"context"
	"time"

	"github.com/ruezetle/snuba/internal/streams"
)

// Producer is a fake streams.Producer[V] backed by a Broker.
type Producer[V any] struct {
	broker *Broker
	codec  streams.Codec[V]
	now    func() time.Time
}

// NewProducer constructs a fake producer. now defaults to time.Now if nil;
// tests that need deterministic timestamps can override it.
func NewProducer[V any](broker *Broker, codec streams.Codec[V], now func() time.Time) *Producer[V] {
	if now == nil {
		now = time.Now
	}
	return &Producer[V]{broker: broker, codec: codec, now: now}
}

func (p *Producer[V]) Produce(ctx context.Context, destination streams.Destination, payload V) *streams.Future[V] {
	future, resolve := streams.NewFuture[V]()
	wire, err := p.codec.Encode(payload)
	if err != nil {
		resolve(streams.Message[V]{}, err)
		return future
	}
	partition, offset := p.broker.Produce(destination.Topic.Name, destination.Partition, wire, p.now())
	resolve(streams.Message[V]{Partition: partition, Offset: offset, Payload: payload, Timestamp: p.now()}, nil)
	return future
}

func (p *Producer[V]) Close(ctx context.Context) error { return nil }
