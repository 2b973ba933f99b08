package subscriptions_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ruezetle/snuba/internal/subscriptions"
	"github.com/ruezetle/snuba/internal/tick"
)

func TestScheduler_CoversResolutionWindow(t *testing.T) {
	store := subscriptions.NewMemoryStore()
	sub := subscriptions.Subscription{ID: uuid.New(), PartitionID: 0, Resolution: 60 * time.Second}
	if err := store.Create(context.Background(), 0, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	sched := subscriptions.NewScheduler(store, time.Minute)
	t0 := time.Unix(1_700_000_000/60*60, 0).UTC() // aligned to a multiple of 60
	interval := tick.Interval[time.Time]{Lower: t0, Upper: t0.Add(180 * time.Second)}

	tasks, err := sched.ScheduleTick(context.Background(), 0, interval)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 scheduled tasks, got %d", len(tasks))
	}
	want := []time.Time{t0, t0.Add(60 * time.Second), t0.Add(120 * time.Second)}
	for i, task := range tasks {
		if !task.Timestamp.Equal(want[i]) {
			t.Fatalf("task %d: expected %v, got %v", i, want[i], task.Timestamp)
		}
	}
}

func TestScheduler_IdempotentUnderReplay(t *testing.T) {
	store := subscriptions.NewMemoryStore()
	sub := subscriptions.Subscription{ID: uuid.New(), Resolution: 30 * time.Second}
	store.Create(context.Background(), 0, sub)

	sched := subscriptions.NewScheduler(store, time.Minute)
	t0 := time.Unix(1_700_000_400, 0).UTC()
	interval := tick.Interval[time.Time]{Lower: t0, Upper: t0.Add(90 * time.Second)}

	first, err := sched.ScheduleTick(context.Background(), 0, interval)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	second, err := sched.ScheduleTick(context.Background(), 0, interval)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical task counts, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Timestamp.Equal(second[i].Timestamp) || first[i].Subscription.ID != second[i].Subscription.ID {
			t.Fatalf("task %d differs between replays: %+v vs %+v", i, first[i], second[i])
		}
	}
}
