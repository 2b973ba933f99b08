package replacer_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/replacer"
	"github.com/ruezetle/snuba/internal/streams"
)

type fakeStore struct {
	countResult int64
	queries     []string
}

func (s *fakeStore) ExecuteRobust(ctx context.Context, query string) (int64, error) {
	s.queries = append(s.queries, query)
	if len(s.queries) == 1 {
		return s.countResult, nil
	}
	return 0, nil
}

type fakeProcessor struct {
	preCalls, postCalls int
}

func (p *fakeProcessor) ProcessMessage(payload json.RawMessage) (replacer.Replacement, error) {
	return replacer.Replacement{
		CountQueryTemplate:  "SELECT count() FROM %(dist_read_table_name)s",
		InsertQueryTemplate: "INSERT INTO %(dist_write_table_name)s VALUES (1)",
		QueryArgs:           map[string]string{},
	}, nil
}

func (p *fakeProcessor) PreReplacement(ctx context.Context, r replacer.Replacement, count int64) error {
	p.preCalls++
	return nil
}

func (p *fakeProcessor) PostReplacement(ctx context.Context, r replacer.Replacement, durationMs int64, count int64) error {
	p.postCalls++
	return nil
}

type fakeTables struct{}

func (fakeTables) ReadTableName() string  { return "events_local" }
func (fakeTables) WriteTableName() string { return "events_dist" }

func envelope(t *testing.T, version int, payload any) streams.KafkaPayload {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal([]json.RawMessage{mustMarshal(t, version), p})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return streams.KafkaPayload{Value: raw}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestReplacerWorker_SkipsWhenCountIsZero(t *testing.T) {
	store := &fakeStore{countResult: 0}
	proc := &fakeProcessor{}
	w := replacer.NewWorker(store, proc, fakeTables{}, nil, nil)

	msg := streams.Message[streams.KafkaPayload]{Payload: envelope(t, 2, map[string]any{})}
	r, ok, err := w.ProcessMessage(msg)
	if err != nil || !ok {
		t.Fatalf("process_message: ok=%v err=%v", ok, err)
	}

	if err := w.FlushBatch([]batching.BatchItem[replacer.Replacement]{{Value: r}}); err != nil {
		t.Fatalf("flush_batch: %v", err)
	}

	if len(store.queries) != 1 {
		t.Fatalf("expected only the count query to execute, got %d queries: %v", len(store.queries), store.queries)
	}
	if proc.preCalls != 0 || proc.postCalls != 0 {
		t.Fatalf("expected no pre/post hooks on zero count, got pre=%d post=%d", proc.preCalls, proc.postCalls)
	}
}

func TestReplacerWorker_AppliesWhenCountIsNonZero(t *testing.T) {
	store := &fakeStore{countResult: 5}
	proc := &fakeProcessor{}
	w := replacer.NewWorker(store, proc, fakeTables{}, nil, nil)

	msg := streams.Message[streams.KafkaPayload]{Payload: envelope(t, 2, map[string]any{})}
	r, ok, err := w.ProcessMessage(msg)
	if err != nil || !ok {
		t.Fatalf("process_message: ok=%v err=%v", ok, err)
	}

	if err := w.FlushBatch([]batching.BatchItem[replacer.Replacement]{{Value: r}}); err != nil {
		t.Fatalf("flush_batch: %v", err)
	}

	if len(store.queries) != 2 {
		t.Fatalf("expected count+insert queries, got %d: %v", len(store.queries), store.queries)
	}
	if proc.preCalls != 1 || proc.postCalls != 1 {
		t.Fatalf("expected pre/post hooks exactly once, got pre=%d post=%d", proc.preCalls, proc.postCalls)
	}
}

func TestReplacerWorker_RejectsUnknownVersion(t *testing.T) {
	store := &fakeStore{}
	proc := &fakeProcessor{}
	w := replacer.NewWorker(store, proc, fakeTables{}, nil, nil)

	msg := streams.Message[streams.KafkaPayload]{Payload: envelope(t, 1, map[string]any{})}
	_, _, err := w.ProcessMessage(msg)
	if err == nil {
		t.Fatal("expected an error for an unsupported message version")
	}
	var fatal *batching.FatalProcessingError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected a FatalProcessingError, got %T: %v", err, err)
	}
	var badVersion *replacer.InvalidMessageVersion
	if !errors.As(fatal, &badVersion) {
		t.Fatalf("expected an InvalidMessageVersion cause, got %v", fatal)
	}
}
