package streams

import (
	"context"
	"time"
)

// AssignCallback is invoked with the starting offset for each newly
// assigned partition before any message from that partition is returned
// from Poll.
type AssignCallback func(assignment map[Partition]uint64)

// RevokeCallback is invoked with the set of partitions about to be taken
// away, before they stop being assigned.
type RevokeCallback func(partitions []Partition)

// Consumer is the uniform broker-agnostic consumer contract (spec C1,
// §4.1). Implementations must only surface rebalance callbacks, errors,
// and EndOfPartition from within Poll.
type Consumer[P any] interface {
	// Subscribe registers interest in topics. onAssign/onRevoke fire from
	// within a later Poll call, never concurrently with it.
	Subscribe(ctx context.Context, topics []string, onAssign AssignCallback, onRevoke RevokeCallback) error

	// Unsubscribe clears interest; onRevoke fires on the next Poll.
	Unsubscribe(ctx context.Context) error

	// Poll returns the next message, or nil if timeout elapses first. It
	// may return a *ConsumerError or an *EndOfPartition (only when the
	// consumer was constructed with end-of-partition signaling enabled).
	Poll(ctx context.Context, timeout time.Duration) (*Message[P], error)

	// Pause stops delivery from the given partitions without losing their
	// assignment. Idempotent.
	Pause(partitions []Partition)

	// Resume restarts delivery from partitions previously paused.
	Resume(partitions []Partition)

	// Paused reports the currently paused partitions.
	Paused() []Partition

	// Tell returns the next-to-be-read offset for every assigned
	// partition.
	Tell() map[Partition]uint64

	// Seek repositions the read offset on assigned partitions.
	Seek(offsets map[Partition]uint64) error

	// StageOffsets stages offsets (next-to-read, i.e. last delivered + 1)
	// to be committed on the following CommitOffsets call.
	StageOffsets(offsets map[Partition]uint64)

	// CommitOffsets commits staged offsets and returns what was actually
	// committed.
	CommitOffsets(ctx context.Context) (map[Partition]uint64, error)

	// Close releases all resources. Idempotent.
	Close() error
}
