// Package tick implements the TickConsumer (spec C6): it wraps a primary
// streams.Consumer and converts adjacent per-partition messages into
// contiguous, non-overlapping time Intervals ("ticks"), without decoding
// payloads.
package tick

import (
	"context"
	"time"

	"github.com/ruezetle/snuba/internal/streams"
)

// Interval is a half-open range [Lower, Upper).
type Interval[T any] struct {
	Lower T
	Upper T
}

// Tick is the per-partition time interval derived from two adjacent
// messages (spec.md §3).
type Tick struct {
	Partition  streams.Partition
	Offsets    Interval[uint64]
	Timestamps Interval[time.Time]
}

type position struct {
	offset    uint64
	timestamp time.Time
}

// Consumer drives a Tick[Message] out of a PassthroughCodec-backed
// streams.Consumer. It is itself usable as the input source of a
// batching.Worker whose TIn is Tick.
type Consumer struct {
	primary streams.Consumer[streams.KafkaPayload]
	last    map[streams.Partition]position
}

// New wraps primary, a consumer already subscribed against the data topic
// with streams.PassthroughCodec (ticks never decode the payload).
func New(primary streams.Consumer[streams.KafkaPayload]) *Consumer {
	return &Consumer{primary: primary, last: make(map[streams.Partition]position)}
}

func (c *Consumer) Subscribe(ctx context.Context, topics []string, onAssign streams.AssignCallback, onRevoke streams.RevokeCallback) error {
	wrappedRevoke := func(partitions []streams.Partition) {
		for _, p := range partitions {
			delete(c.last, p)
		}
		if onRevoke != nil {
			onRevoke(partitions)
		}
	}
	return c.primary.Subscribe(ctx, topics, onAssign, wrappedRevoke)
}

func (c *Consumer) Unsubscribe(ctx context.Context) error { return c.primary.Unsubscribe(ctx) }

// Poll returns the next Tick derived from the primary consumer's stream, or
// nil if the underlying poll timed out or the message was a partition's
// first-ever observation (which only seeds state; see spec.md §4.5).
func (c *Consumer) Poll(ctx context.Context, timeout time.Duration) (*streams.Message[Tick], error) {
	msg, err := c.primary.Poll(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}

	prev, ok := c.last[msg.Partition]
	c.last[msg.Partition] = position{offset: msg.Offset, timestamp: msg.Timestamp}
	if !ok {
		return nil, nil
	}

	t := Tick{
		Partition:  msg.Partition,
		Offsets:    Interval[uint64]{Lower: prev.offset, Upper: msg.Offset},
		Timestamps: Interval[time.Time]{Lower: prev.timestamp, Upper: msg.Timestamp},
	}
	return &streams.Message[Tick]{
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Payload:   t,
		Timestamp: msg.Timestamp,
	}, nil
}

func (c *Consumer) Pause(partitions []streams.Partition)  { c.primary.Pause(partitions) }
func (c *Consumer) Resume(partitions []streams.Partition) { c.primary.Resume(partitions) }
func (c *Consumer) Paused() []streams.Partition           { return c.primary.Paused() }
func (c *Consumer) Tell() map[streams.Partition]uint64    { return c.primary.Tell() }

func (c *Consumer) Seek(offsets map[streams.Partition]uint64) error {
	return c.primary.Seek(offsets)
}

func (c *Consumer) StageOffsets(offsets map[streams.Partition]uint64) {
	c.primary.StageOffsets(offsets)
}

func (c *Consumer) CommitOffsets(ctx context.Context) (map[streams.Partition]uint64, error) {
	return c.primary.CommitOffsets(ctx)
}

func (c *Consumer) Close() error { return c.primary.Close() }
