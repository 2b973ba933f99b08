package kafka

import (
	"context"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/streams"
)

// Producer implements streams.Producer[V] over a *kgo.Client.
type Producer[V any] struct {
	cl    *kgo.Client
	codec streams.Codec[V]
	log   *zap.Logger
}

// NewProducer constructs a Producer. partitioner "consistent" maps to
// kgo.StickyKeyPartitioner, matching snuba's own producer configuration
// (see original_source/snuba/cli/subscriptions.py's
// `"partitioner": "consistent"`).
func NewProducer[V any](cfg ProducerConfig, codec streams.Codec[V]) (*Producer[V], error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BootstrapServers...),
		kgo.WithLogger(newKgoLogger(cfg.Logger)),
	}
	if cfg.MaxMessageBytes > 0 {
		opts = append(opts, kgo.ProducerBatchMaxBytes(cfg.MaxMessageBytes))
	}
	if cfg.Partitioner == "consistent" {
		opts = append(opts, kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)))
	}
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "constructing kafka producer")
	}
	return &Producer[V]{cl: cl, codec: codec, log: cfg.Logger}, nil
}

func (p *Producer[V]) Produce(ctx context.Context, destination streams.Destination, payload V) *streams.Future[V] {
	future, resolve := streams.NewFuture[V]()

	wire, err := p.codec.Encode(payload)
	if err != nil {
		resolve(streams.Message[V]{}, errors.Wrap(err, "encoding payload"))
		return future
	}

	rec := &kgo.Record{Topic: destination.Topic.Name, Key: wire.Key, Value: wire.Value}
	if destination.Partition != nil {
		rec.Partition = *destination.Partition
	}

	p.cl.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			resolve(streams.Message[V]{}, err)
			return
		}
		resolve(streams.Message[V]{
			Partition: streams.Partition{Topic: streams.Topic{Name: r.Topic}, Index: r.Partition},
			Offset:    uint64(r.Offset),
			Payload:   payload,
			Timestamp: r.Timestamp,
		}, nil)
	})

	return future
}

func (p *Producer[V]) Close(ctx context.Context) error {
	if err := p.cl.Flush(ctx); err != nil {
		p.log.Warn("producer flush did not complete before close; dropping pending records", zap.Error(err))
	}
	p.cl.Close()
	return nil
}
