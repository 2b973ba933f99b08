package streams

import "context"

// Destination is either a topic (the broker's partitioner picks the
// partition) or a specific partition.
type Destination struct {
	Topic     Topic
	Partition *int32 // nil unless a specific partition was requested
}

// ToTopic builds a Destination that leaves partition selection to the
// broker's partitioner.
func ToTopic(t Topic) Destination { return Destination{Topic: t} }

// ToPartition builds a Destination that pins the record to one partition.
func ToPartition(p Partition) Destination {
	idx := p.Index
	return Destination{Topic: p.Topic, Partition: &idx}
}

// Future resolves once the broker has acknowledged durability of a
// produced record, carrying the message it was assigned (including the
// offset the broker chose) or the error that occurred.
type Future[P any] struct {
	done chan struct{}
	msg  Message[P]
	err  error
}

// NewFuture constructs an unresolved Future. Producer implementations call
// resolve exactly once.
func NewFuture[P any]() (*Future[P], func(Message[P], error)) {
	f := &Future[P]{done: make(chan struct{})}
	resolve := func(m Message[P], err error) {
		f.msg, f.err = m, err
		close(f.done)
	}
	return f, resolve
}

// Result blocks until the future resolves or ctx is canceled.
func (f *Future[P]) Result(ctx context.Context) (Message[P], error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return Message[P]{}, ctx.Err()
	}
}

// Producer publishes values of type P, encoded by the Codec the producer
// was constructed with.
type Producer[P any] interface {
	// Produce asynchronously publishes payload to destination, returning a
	// Future that resolves once the broker acknowledges durability.
	Produce(ctx context.Context, destination Destination, payload P) *Future[P]

	// Close flushes pending futures with a bounded timeout (via ctx) and
	// releases resources. Any records still pending when ctx expires are
	// logged and dropped.
	Close(ctx context.Context) error
}
