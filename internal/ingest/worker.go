// Package ingest provides the Worker used by the ingest consumer
// (spec.md §2 overview, "for ingest: Worker = message processor"): it
// decodes wire records into rows and flushes them as a single batch
// insert into the column store.
package ingest

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/batching"
	"github.com/ruezetle/snuba/internal/metrics"
	"github.com/ruezetle/snuba/internal/streams"
)

// Row is an opaque, storage-defined insertable unit. Its shape (column
// layout, codec) belongs to the dataset/storage layer, out of scope for
// this module (spec.md §1).
type Row = []byte

// Processor decodes one wire record into zero or one insertable Row.
// Returning ok=false drops the message (e.g. it failed schema validation)
// without failing the batch — equivalent to a DecodeError (spec.md §7).
type Processor interface {
	ProcessMessage(payload streams.KafkaPayload) (Row, bool, error)
}

// ColumnWriter is the external collaborator that performs the actual
// batch insert (spec.md §1, "the column-store query dialect and
// formatter" is out of scope).
type ColumnWriter interface {
	WriteRows(ctx context.Context, rows []Row) error
}

// Worker implements batching.Worker[streams.KafkaPayload, Row].
type Worker struct {
	processor Processor
	writer    ColumnWriter
	metrics   metrics.Backend
	log       *zap.Logger
}

// NewWorker constructs an ingest Worker.
func NewWorker(processor Processor, writer ColumnWriter, m metrics.Backend, log *zap.Logger) *Worker {
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{processor: processor, writer: writer, metrics: m, log: log}
}

func (w *Worker) ProcessMessage(msg streams.Message[streams.KafkaPayload]) (Row, bool, error) {
	row, ok, err := w.processor.ProcessMessage(msg.Payload)
	if err != nil {
		return nil, false, err
	}
	return row, ok, nil
}

// FlushBatch performs one write against the column store for the whole
// batch (spec.md §4.2: flush is the side-effecting commit of a batch).
func (w *Worker) FlushBatch(batch []batching.BatchItem[Row]) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([]Row, len(batch))
	for i, item := range batch {
		rows[i] = item.Value
	}
	if err := w.writer.WriteRows(context.Background(), rows); err != nil {
		return errors.Wrap(err, "writing ingest batch")
	}
	w.metrics.Count("ingest.rows_written", int64(len(rows)), nil)
	w.log.Debug("flushed ingest batch", zap.Int("rows", len(rows)))
	return nil
}
