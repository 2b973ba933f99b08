// Package batching implements the batching consumer / worker harness
// (spec C4, §4.2): a single run loop that polls a streams.Consumer,
// transforms messages through a user Worker, accumulates results into
// batches, and flushes them with offset-commit coordination and
// exponential-backoff retry.
package batching

import (
	"github.com/ruezetle/snuba/internal/streams"
)

// BatchItem pairs a Worker's transformed output with the (partition,
// offset) of the message it was derived from, so FlushBatch implementers
// that need source provenance (e.g. for logging) have it.
type BatchItem[TOut any] struct {
	Partition streams.Partition
	Offset    uint64
	Value     TOut
}

// Worker is the user-supplied transform/flush pair the harness drives.
// ProcessMessage is a pure transform: ok=false filters the message out of
// the batch (its offset is still committed). FlushBatch is the
// side-effecting commit of a batch to downstream storage.
type Worker[TIn, TOut any] interface {
	ProcessMessage(msg streams.Message[TIn]) (out TOut, ok bool, err error)
	FlushBatch(batch []BatchItem[TOut]) error
}

// FatalProcessingError marks a ProcessMessage error as non-recoverable:
// the harness aborts instead of treating it as a dropped/decode-style
// error. Most ProcessMessage errors should NOT be wrapped in this; by
// default a ProcessMessage error is absorbed like a DecodeError (spec.md
// §7, "ProcessingError ... treated as DecodeError unless the worker
// explicitly marks it fatal").
type FatalProcessingError struct {
	Err error
}

func (e *FatalProcessingError) Error() string { return "fatal processing error: " + e.Err.Error() }
func (e *FatalProcessingError) Unwrap() error  { return e.Err }
