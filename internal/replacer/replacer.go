// Package replacer implements the ReplacerWorker (spec C5): it decodes
// replacement messages off the replacements topic and applies each one
// sequentially against the column store via an idempotent
// count-query/insert-query pair.
package replacer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/metrics"
	"github.com/ruezetle/snuba/internal/streams"
)

// InvalidMessageVersion is raised when a replacement message's envelope
// version is not the one version this worker understands (spec.md §4.4).
type InvalidMessageVersion struct {
	Version int
}

func (e *InvalidMessageVersion) Error() string {
	return errors.Errorf("unknown replacement message version %d", e.Version).Error()
}

const replacementVersion2 = 2

// Replacement is the decoded, ready-to-execute unit of work (spec.md §3).
// QueryArgs are merged with the read/write table names supplied by a
// TableNameProvider before template substitution (spec.md's
// dist_read_table_name / dist_write_table_name supplement).
type Replacement struct {
	CountQueryTemplate  string
	InsertQueryTemplate string
	QueryArgs           map[string]string
}

// Processor decodes a raw replacement envelope's payload into a
// Replacement and runs the pre/post hooks around its application. This is
// the storage-specific collaborator (spec.md §1, out of scope) that this
// module treats as an opaque interface.
type Processor interface {
	ProcessMessage(payload json.RawMessage) (Replacement, error)
	PreReplacement(ctx context.Context, r Replacement, count int64) error
	PostReplacement(ctx context.Context, r Replacement, durationMs int64, count int64) error
}

// TableNameProvider supplies the dist_read_table_name/dist_write_table_name
// substitution values a Replacement's templates expect (supplemented from
// original_source/snuba/replacer.py's flush_batch).
type TableNameProvider interface {
	ReadTableName() string
	WriteTableName() string
}

// ColumnStore is the external collaborator a Replacement's templates run
// against. ExecuteRobust must retry transient connection failures
// internally and return only fatal errors (spec.md §4.4, "robust
// executor").
type ColumnStore interface {
	ExecuteRobust(ctx context.Context, query string) (count int64, err error)
}

// Worker implements batching.Worker[streams.KafkaPayload, Replacement].
type Worker struct {
	store     ColumnStore
	processor Processor
	tables    TableNameProvider
	metrics   metrics.Backend
	log       *zap.Logger
}

// NewWorker constructs a replacer Worker.
func NewWorker(store ColumnStore, processor Processor, tables TableNameProvider, m metrics.Backend, log *zap.Logger) *Worker {
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{store: store, processor: processor, tables: tables, metrics: m, log: log}
}

// ProcessMessage decodes the [version, payload] envelope and rejects
// anything but version 2 (spec.md §4.4, §6).
func (w *Worker) ProcessMessage(msg streams.Message[streams.KafkaPayload]) (Replacement, bool, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(msg.Payload.Value, &envelope); err != nil {
		return Replacement{}, false, errors.Wrap(err, "decoding replacement envelope")
	}
	if len(envelope) < 2 {
		return Replacement{}, false, errors.New("replacement envelope missing payload")
	}

	var version int
	if err := json.Unmarshal(envelope[0], &version); err != nil {
		return Replacement{}, false, errors.Wrap(err, "decoding replacement version")
	}
	if version != replacementVersion2 {
		return Replacement{}, false, &batching.FatalProcessingError{Err: &InvalidMessageVersion{Version: version}}
	}

	r, err := w.processor.ProcessMessage(envelope[1])
	if err != nil {
		return Replacement{}, false, errors.Wrap(err, "processing replacement payload")
	}
	return r, true, nil
}

// FlushBatch applies each replacement sequentially, in order (spec.md §4.4:
// "order matters for correctness"). Per the spec's resolved Open Question
// (§9), offsets are committed by the harness only after FlushBatch returns,
// i.e. only after every replacement's PostReplacement hook has completed.
func (w *Worker) FlushBatch(batch []batching.BatchItem[Replacement]) error {
	for _, item := range batch {
		if err := w.applyOne(context.Background(), item.Value); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) applyOne(ctx context.Context, r Replacement) error {
	args := make(map[string]string, len(r.QueryArgs)+2)
	for k, v := range r.QueryArgs {
		args[k] = v
	}
	args["dist_read_table_name"] = w.tables.ReadTableName()
	args["dist_write_table_name"] = w.tables.WriteTableName()

	count, err := w.store.ExecuteRobust(ctx, substitute(r.CountQueryTemplate, args))
	if err != nil {
		return errors.Wrap(err, "executing replacement count query")
	}
	if count == 0 {
		return nil
	}

	if err := w.processor.PreReplacement(ctx, r, count); err != nil {
		return errors.Wrap(err, "pre_replacement hook")
	}

	start := time.Now()
	query := substitute(r.InsertQueryTemplate, args)
	w.log.Debug("executing replace query", zap.String("query", query))
	if _, err := w.store.ExecuteRobust(ctx, query); err != nil {
		return errors.Wrap(err, "executing replacement insert query")
	}
	duration := time.Since(start)

	if err := w.processor.PostReplacement(ctx, r, duration.Milliseconds(), count); err != nil {
		return errors.Wrap(err, "post_replacement hook")
	}

	w.log.Info("applied replacement", zap.Int64("count", count), zap.Duration("duration", duration))
	w.metrics.Count("replacements.count", count, nil)
	w.metrics.Timing("replacements.duration", duration, nil)
	return nil
}

// substitute performs %(name)s-style template substitution. Templates are
// treated as opaque strings owned by the column-store query layer
// (spec.md §1); this module only fills in the args map.
func substitute(template string, args map[string]string) string {
	out := template
	for k, v := range args {
		out = strings.ReplaceAll(out, "%("+k+")s", v)
	}
	return out
}
