// Package subscriptions implements the subscription store, scheduler
// (spec C7), and executor/worker (spec C8): a per-partition persisted set
// of queries, due-time enumeration against tick intervals, and bounded
// concurrent dispatch of the due queries.
package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/ruezetle/snuba/internal/streams"
)

// Subscription is a standing query evaluated periodically on a partition
// (spec.md §3).
type Subscription struct {
	ID           uuid.UUID
	PartitionID  int32
	ProjectID    uint64
	Conditions   string
	Aggregations string
	TimeWindow   time.Duration
	Resolution   time.Duration
}

// ScheduledTask pairs a due timestamp with the subscription due at it.
type ScheduledTask struct {
	Timestamp    time.Time
	Subscription Subscription
}

// QueryResult is the opaque result of evaluating one subscription; its
// shape is owned by the column-store query layer, out of scope for this
// module (spec.md §1 Out of scope).
type QueryResult struct {
	Rows []map[string]any
}

// SubscriptionResult is republished to the results topic after a
// subscription has been evaluated (spec.md §3).
type SubscriptionResult struct {
	SubscriptionID uuid.UUID
	Partition      streams.Partition
	TickUpper      time.Time
	Request        string
	Result         QueryResult
}
