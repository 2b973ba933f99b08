package streamstest

import (
	"context"
	"sort"
	"time"

	"github.com/ruezetle/snuba/internal/streams"
)

type pendingEvent struct {
	assign map[streams.Partition]uint64
	revoke []streams.Partition
}

// Consumer is a fake streams.Consumer[V] backed by a Broker, used only in
// tests.
type Consumer[V any] struct {
	broker *Broker
	group  string
	codec  streams.Codec[V]
	reset  streams.AutoOffsetReset
	eop    bool

	onAssign streams.AssignCallback
	onRevoke streams.RevokeCallback
	pending  []pendingEvent

	position map[streams.Partition]uint64
	paused   map[streams.Partition]bool
	staged   map[streams.Partition]uint64
}

// NewConsumer constructs a fake consumer for group reading with codec.
func NewConsumer[V any](broker *Broker, group string, codec streams.Codec[V], reset streams.AutoOffsetReset, eop bool) *Consumer[V] {
	return &Consumer[V]{
		broker:   broker,
		group:    group,
		codec:    codec,
		reset:    reset,
		eop:      eop,
		position: make(map[streams.Partition]uint64),
		paused:   make(map[streams.Partition]bool),
		staged:   make(map[streams.Partition]uint64),
	}
}

func (c *Consumer[V]) Subscribe(ctx context.Context, topics []string, onAssign streams.AssignCallback, onRevoke streams.RevokeCallback) error {
	c.onAssign, c.onRevoke = onAssign, onRevoke
	assignment := make(map[streams.Partition]uint64)
	for _, topic := range topics {
		n := c.broker.PartitionCount(topic)
		for i := 0; i < n; i++ {
			p := streams.Partition{Topic: streams.Topic{Name: topic}, Index: int32(i)}
			start := c.startOffset(p)
			assignment[p] = start
			c.position[p] = start
		}
	}
	c.pending = append(c.pending, pendingEvent{assign: assignment})
	return nil
}

func (c *Consumer[V]) startOffset(p streams.Partition) uint64 {
	if committed, ok := c.broker.CommittedOffset(c.group, p); ok {
		return committed
	}
	switch c.reset {
	case streams.ResetLatest:
		return c.broker.HighWatermark(p)
	default:
		return 0 // earliest, and "error" treated as earliest for the fake
	}
}

func (c *Consumer[V]) Unsubscribe(ctx context.Context) error {
	var revoke []streams.Partition
	for p := range c.position {
		revoke = append(revoke, p)
	}
	c.pending = append(c.pending, pendingEvent{revoke: revoke})
	c.position = make(map[streams.Partition]uint64)
	return nil
}

func (c *Consumer[V]) drainPending() {
	events := c.pending
	c.pending = nil
	for _, ev := range events {
		if len(ev.assign) > 0 && c.onAssign != nil {
			c.onAssign(ev.assign)
		}
		if len(ev.revoke) > 0 && c.onRevoke != nil {
			c.onRevoke(ev.revoke)
		}
	}
}

// assignedPartitions returns assigned partitions in deterministic order so
// tests are reproducible.
func (c *Consumer[V]) assignedPartitions() []streams.Partition {
	out := make([]streams.Partition, 0, len(c.position))
	for p := range c.position {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic.Name != out[j].Topic.Name {
			return out[i].Topic.Name < out[j].Topic.Name
		}
		return out[i].Index < out[j].Index
	})
	return out
}

func (c *Consumer[V]) Poll(ctx context.Context, timeout time.Duration) (*streams.Message[V], error) {
	c.drainPending()

	deadline := time.Now().Add(timeout)
	for {
		for _, p := range c.assignedPartitions() {
			if c.paused[p] {
				continue
			}
			pl := c.broker.partitionLog(p)
			pl.mu.Lock()
			pos := c.position[p]
			if pos >= uint64(len(pl.records)) {
				pl.mu.Unlock()
				continue
			}
			rec := pl.records[pos]
			pl.mu.Unlock()

			c.position[p] = pos + 1
			v, err := c.codec.Decode(rec.payload)
			if err != nil {
				return nil, &streams.DecodeError{Partition: p, Offset: pos, Err: err}
			}
			return &streams.Message[V]{Partition: p, Offset: pos, Payload: v, Timestamp: rec.timestamp}, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Consumer[V]) Pause(partitions []streams.Partition) {
	for _, p := range partitions {
		c.paused[p] = true
	}
}

func (c *Consumer[V]) Resume(partitions []streams.Partition) {
	for _, p := range partitions {
		delete(c.paused, p)
	}
}

func (c *Consumer[V]) Paused() []streams.Partition {
	out := make([]streams.Partition, 0, len(c.paused))
	for p := range c.paused {
		out = append(out, p)
	}
	return out
}

func (c *Consumer[V]) Tell() map[streams.Partition]uint64 {
	out := make(map[streams.Partition]uint64, len(c.position))
	for p, o := range c.position {
		out[p] = o
	}
	return out
}

func (c *Consumer[V]) Seek(offsets map[streams.Partition]uint64) error {
	for p, o := range offsets {
		c.position[p] = o
	}
	return nil
}

func (c *Consumer[V]) StageOffsets(offsets map[streams.Partition]uint64) {
	for p, o := range offsets {
		c.staged[p] = o
	}
}

func (c *Consumer[V]) CommitOffsets(ctx context.Context) (map[streams.Partition]uint64, error) {
	toCommit := c.staged
	c.staged = make(map[streams.Partition]uint64)

	committed := make(map[streams.Partition]uint64, len(toCommit))
	for p, o := range toCommit {
		pl := c.broker.partitionLog(p)
		pl.mu.Lock()
		pl.committed[c.group] = o
		pl.mu.Unlock()
		committed[p] = o
	}
	return committed, nil
}

func (c *Consumer[V]) Close() error { return nil }
