package batching

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/metrics"
	"github.com/ruezetle/snuba/internal/streams"
)

const (
	flushBackoffBase   = 250 * time.Millisecond
	flushBackoffCap    = 5 * time.Second
	flushBackoffJitter = 0.2
)

// Config holds the tunables BatchingConsumer is constructed with (spec.md
// §6: max_batch_size, max_batch_time_ms, plus the poll timeout used to
// bound shutdown latency).
type Config struct {
	MaxBatchSize   int
	MaxBatchTime   time.Duration
	PollTimeout    time.Duration // recommended <= 1s (spec.md §5)
	ConsumerGroup  string
}

// BatchingConsumer is the C4 worker harness: it owns one streams.Consumer,
// drives it through a Worker, and manages batch/flush/commit lifecycle.
type BatchingConsumer[TIn, TOut any] struct {
	consumer streams.Consumer[TIn]
	worker   Worker[TIn, TOut]
	topics   []string
	cfg      Config
	metrics  metrics.Backend
	log      *zap.Logger

	// OnCommit, if set, is invoked synchronously after CommitOffsets
	// succeeds with exactly what was committed — this is where a caller
	// wires up publishing to the commit log (spec C2).
	OnCommit func(ctx context.Context, committed map[streams.Partition]uint64)

	shutdown atomic.Bool

	outBatch       []BatchItem[TOut]
	pendingOffsets map[streams.Partition]uint64
	lastOffsetSeen map[streams.Partition]uint64
	windowStart    time.Time
	windowOpen     bool
}

// New constructs a BatchingConsumer. consumer must not have had Subscribe
// called yet; Run calls it.
func New[TIn, TOut any](consumer streams.Consumer[TIn], topics []string, worker Worker[TIn, TOut], cfg Config, m metrics.Backend, log *zap.Logger) *BatchingConsumer[TIn, TOut] {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if m == nil {
		m = metrics.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchingConsumer[TIn, TOut]{
		consumer:       consumer,
		worker:         worker,
		topics:         topics,
		cfg:            cfg,
		metrics:        m,
		log:            log,
		pendingOffsets: make(map[streams.Partition]uint64),
		lastOffsetSeen: make(map[streams.Partition]uint64),
	}
}

// SignalShutdown requests a graceful stop: the in-progress poll finishes,
// a final flush runs, and Run returns nil. Safe to call from any
// goroutine (spec.md's "signal-driven shutdown" design note).
func (b *BatchingConsumer[TIn, TOut]) SignalShutdown() {
	b.shutdown.Store(true)
}

// Run executes the harness's single run loop until shutdown is signaled or
// a fatal error occurs.
func (b *BatchingConsumer[TIn, TOut]) Run(ctx context.Context) error {
	onAssign := func(assignment map[streams.Partition]uint64) {
		b.log.Info("partitions assigned", zap.Int("count", len(assignment)))
	}
	onRevoke := func(partitions []streams.Partition) {
		b.log.Info("partitions revoked, flushing in-progress batch", zap.Int("count", len(partitions)))
		if err := b.flush(ctx); err != nil {
			b.log.Error("flush on revoke failed", zap.Error(err))
		}
		for _, p := range partitions {
			delete(b.pendingOffsets, p)
			delete(b.lastOffsetSeen, p)
		}
	}
	if err := b.consumer.Subscribe(ctx, b.topics, onAssign, onRevoke); err != nil {
		return err
	}

	for {
		if b.shutdown.Load() {
			if err := b.flush(ctx); err != nil {
				return err
			}
			return b.consumer.Close()
		}

		msg, err := b.consumer.Poll(ctx, b.cfg.PollTimeout)
		if err != nil {
			var eop *streams.EndOfPartition
			if errors.As(err, &eop) {
				continue
			}
			var cerr *streams.ConsumerError
			if errors.As(err, &cerr) {
				if cerr.Fatal {
					b.log.Error("fatal consumer error, flushing and aborting", zap.Error(cerr))
					_ = b.flush(ctx)
					return cerr
				}
				b.log.Warn("transient consumer error", zap.Error(cerr))
				continue
			}
			var dec *streams.DecodeError
			if errors.As(err, &dec) {
				b.absorbDecodeError(dec.Partition, dec.Offset, dec.Err)
				continue
			}
			return err
		}

		if msg != nil {
			if err := b.handleMessage(*msg); err != nil {
				var fatal *FatalProcessingError
				if errors.As(err, &fatal) {
					b.log.Error("fatal processing error, flushing and aborting", zap.Error(fatal))
					_ = b.flush(ctx)
					return fatal
				}
				var inv *streams.InvariantViolation
				if errors.As(err, &inv) {
					_ = b.flush(ctx)
					return inv
				}
				return err
			}
		}

		if b.shouldFlush() {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (b *BatchingConsumer[TIn, TOut]) absorbDecodeError(p streams.Partition, offset uint64, cause error) {
	b.log.Warn("dropping message: decode error", zap.String("partition", p.String()), zap.Uint64("offset", offset), zap.Error(cause))
	b.metrics.Count("batching.decode_error", 1, map[string]string{"partition": p.String()})
	b.recordOffset(p, offset)
}

func (b *BatchingConsumer[TIn, TOut]) handleMessage(msg streams.Message[TIn]) error {
	last, seen := b.lastOffsetSeen[msg.Partition]
	if seen && msg.Offset <= last {
		return &streams.InvariantViolation{Msg: "offset regression on " + msg.Partition.String()}
	}

	out, ok, err := b.worker.ProcessMessage(msg)
	if err != nil {
		var fatal *FatalProcessingError
		if errors.As(err, &fatal) {
			return fatal
		}
		b.absorbDecodeError(msg.Partition, msg.Offset, err)
		return nil
	}

	b.recordOffset(msg.Partition, msg.Offset)
	if ok {
		b.outBatch = append(b.outBatch, BatchItem[TOut]{Partition: msg.Partition, Offset: msg.Offset, Value: out})
	}
	return nil
}

func (b *BatchingConsumer[TIn, TOut]) recordOffset(p streams.Partition, offset uint64) {
	b.lastOffsetSeen[p] = offset
	b.pendingOffsets[p] = offset + 1
	if !b.windowOpen {
		b.windowOpen = true
		b.windowStart = time.Now()
	}
}

func (b *BatchingConsumer[TIn, TOut]) shouldFlush() bool {
	if len(b.outBatch) >= b.cfg.MaxBatchSize && b.cfg.MaxBatchSize > 0 {
		return true
	}
	return b.windowOpen && time.Since(b.windowStart) >= b.cfg.MaxBatchTime
}

// flush runs the flush-batch / stage-offsets / commit-offsets sequence
// (spec.md §4.2 step 3), retrying FlushBatch indefinitely with backoff on
// failure. It is also invoked on shutdown and on partition revocation,
// where the batch may be empty.
func (b *BatchingConsumer[TIn, TOut]) flush(ctx context.Context) error {
	batch := b.outBatch
	offsets := b.pendingOffsets

	if err := b.flushWithRetry(ctx, batch); err != nil {
		return err
	}

	if len(offsets) > 0 {
		b.consumer.StageOffsets(offsets)
		committed, err := b.consumer.CommitOffsets(ctx)
		if err != nil {
			return err
		}
		if b.OnCommit != nil && len(committed) > 0 {
			b.OnCommit(ctx, committed)
		}
	}

	b.outBatch = nil
	b.pendingOffsets = make(map[streams.Partition]uint64)
	b.windowOpen = false
	return nil
}

func (b *BatchingConsumer[TIn, TOut]) flushWithRetry(ctx context.Context, batch []BatchItem[TOut]) error {
	backoff := flushBackoffBase
	for attempt := 0; ; attempt++ {
		err := b.worker.FlushBatch(batch)
		if err == nil {
			return nil
		}
		b.metrics.Count("batching.flush_error", 1, nil)
		b.log.Error("flush_batch failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		jittered := applyJitter(backoff)
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > flushBackoffCap {
			backoff = flushBackoffCap
		}
	}
}

func applyJitter(d time.Duration) time.Duration {
	delta := float64(d) * flushBackoffJitter
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}
