// Package synchronized implements the SynchronizedConsumer (spec C3): a
// consumer wrapper that gates delivery of a primary topic on the observed
// progress of one or more remote consumer groups, read from the commit log.
package synchronized

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/commitlog"
	"github.com/ruezetle/snuba/internal/streams"
)

// Consumer wraps a primary streams.Consumer[P] and a commit-log consumer,
// pausing primary partitions until every group in requiredGroups has
// confirmed progress past the next offset to deliver on that partition.
type Consumer[P any] struct {
	primary   streams.Consumer[P]
	commitLog streams.Consumer[commitlog.Commit]
	required  map[string]struct{}
	log       *zap.Logger

	mu            sync.Mutex
	remoteOffsets map[remoteKey]uint64
	assigned      map[streams.Partition]struct{}
}

type remoteKey struct {
	group     string
	partition streams.Partition
}

// New constructs a SynchronizedConsumer. commitLog must already be wired to
// a codec decoding commitlog.Commit records and should use a fresh
// ephemeral group id with auto_offset_reset=earliest (spec.md §4.3) so it
// observes the full commit history.
func New[P any](primary streams.Consumer[P], commitLog streams.Consumer[commitlog.Commit], requiredGroups []string, log *zap.Logger) *Consumer[P] {
	required := make(map[string]struct{}, len(requiredGroups))
	for _, g := range requiredGroups {
		required[g] = struct{}{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer[P]{
		primary:       primary,
		commitLog:     commitLog,
		required:      required,
		log:           log,
		remoteOffsets: make(map[remoteKey]uint64),
		assigned:      make(map[streams.Partition]struct{}),
	}
}

// Subscribe subscribes both the primary and commit-log consumers. Newly
// assigned primary partitions start paused until the gate is computed on
// the next poll (spec.md §4.3, "Cancellation & rebalance").
func (c *Consumer[P]) Subscribe(ctx context.Context, topics []string, onAssign streams.AssignCallback, onRevoke streams.RevokeCallback) error {
	primaryOnAssign := func(assignment map[streams.Partition]uint64) {
		c.mu.Lock()
		for p := range assignment {
			c.assigned[p] = struct{}{}
		}
		c.mu.Unlock()
		c.primary.Pause(partitionsOf(assignment))
		if onAssign != nil {
			onAssign(assignment)
		}
	}
	primaryOnRevoke := func(partitions []streams.Partition) {
		c.mu.Lock()
		for _, p := range partitions {
			delete(c.assigned, p)
			for g := range c.required {
				delete(c.remoteOffsets, remoteKey{group: g, partition: p})
			}
		}
		c.mu.Unlock()
		if onRevoke != nil {
			onRevoke(partitions)
		}
	}
	if err := c.primary.Subscribe(ctx, topics, primaryOnAssign, primaryOnRevoke); err != nil {
		return err
	}
	return c.commitLog.Subscribe(ctx, []string{commitlog.DefaultTopic}, nil, nil)
}

func partitionsOf(assignment map[streams.Partition]uint64) []streams.Partition {
	out := make([]streams.Partition, 0, len(assignment))
	for p := range assignment {
		out = append(out, p)
	}
	return out
}

func (c *Consumer[P]) Unsubscribe(ctx context.Context) error {
	if err := c.commitLog.Unsubscribe(ctx); err != nil {
		return err
	}
	return c.primary.Unsubscribe(ctx)
}

// Poll drains available commit-log records non-blocking, reconciles the
// pause/resume state of every assigned partition, and polls the primary
// consumer with whatever timeout remains (spec.md §4.3 steps 1-3).
func (c *Consumer[P]) Poll(ctx context.Context, timeout time.Duration) (*streams.Message[P], error) {
	deadline := time.Now().Add(timeout)
	c.drainCommitLog(ctx)
	c.reconcile()

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}
	return c.primary.Poll(ctx, remaining)
}

func (c *Consumer[P]) drainCommitLog(ctx context.Context) {
	for {
		msg, err := c.commitLog.Poll(ctx, 0)
		if err != nil || msg == nil {
			return
		}
		commit := msg.Payload
		if _, ok := c.required[commit.Group]; !ok {
			continue
		}
		key := remoteKey{group: commit.Group, partition: commit.Partition}
		c.mu.Lock()
		if commit.Offset > c.remoteOffsets[key] {
			c.remoteOffsets[key] = commit.Offset
		}
		c.mu.Unlock()
	}
}

func (c *Consumer[P]) reconcile() {
	next := c.primary.Tell()

	c.mu.Lock()
	defer c.mu.Unlock()

	var releasable, paused []streams.Partition
	for p := range c.assigned {
		if c.releasableLocked(p, next[p]) {
			releasable = append(releasable, p)
		} else {
			paused = append(paused, p)
		}
	}
	if len(releasable) > 0 {
		c.primary.Resume(releasable)
	}
	if len(paused) > 0 {
		c.primary.Pause(paused)
	}
}

// releasableLocked reports whether p is releasable given the next offset
// to deliver on it: every required group must have an observed commit
// strictly greater than that offset. Callers must hold c.mu.
func (c *Consumer[P]) releasableLocked(p streams.Partition, nextOffset uint64) bool {
	if len(c.required) == 0 {
		return true
	}
	for g := range c.required {
		observed, ok := c.remoteOffsets[remoteKey{group: g, partition: p}]
		if !ok || observed <= nextOffset {
			return false
		}
	}
	return true
}

func (c *Consumer[P]) Pause(partitions []streams.Partition)  { c.primary.Pause(partitions) }
func (c *Consumer[P]) Resume(partitions []streams.Partition) { c.primary.Resume(partitions) }
func (c *Consumer[P]) Paused() []streams.Partition            { return c.primary.Paused() }
func (c *Consumer[P]) Tell() map[streams.Partition]uint64     { return c.primary.Tell() }

func (c *Consumer[P]) Seek(offsets map[streams.Partition]uint64) error {
	return c.primary.Seek(offsets)
}

func (c *Consumer[P]) StageOffsets(offsets map[streams.Partition]uint64) {
	c.primary.StageOffsets(offsets)
}

func (c *Consumer[P]) CommitOffsets(ctx context.Context) (map[streams.Partition]uint64, error) {
	return c.primary.CommitOffsets(ctx)
}

func (c *Consumer[P]) Close() error {
	err := c.primary.Close()
	if clErr := c.commitLog.Close(); err == nil {
		err = clErr
	}
	return err
}
