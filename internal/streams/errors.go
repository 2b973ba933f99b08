package streams

import (
	"errors"
	"fmt"
)

// EndOfPartition is returned by Consumer.Poll when the broker signals that
// the high watermark has been reached on a partition. It is informational,
// not an error in most flows; callers that did not opt into
// enable_end_of_partition never observe it.
type EndOfPartition struct {
	Partition Partition
	Offset    uint64
}

func (e *EndOfPartition) Error() string {
	return fmt.Sprintf("end of partition %s at offset %d", e.Partition, e.Offset)
}

// ConsumerError distinguishes transient (retriable) broker failures from
// fatal ones that leave the consumer unusable.
type ConsumerError struct {
	Partition Partition
	Fatal     bool
	Err       error
}

func (e *ConsumerError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	if e.Partition.Topic.Name != "" {
		return fmt.Sprintf("%s consumer error on %s: %v", kind, e.Partition, e.Err)
	}
	return fmt.Sprintf("%s consumer error: %v", kind, e.Err)
}

func (e *ConsumerError) Unwrap() error { return e.Err }

// IsFatal reports whether err is, or wraps, a fatal ConsumerError.
func IsFatal(err error) bool {
	var ce *ConsumerError
	if errors.As(err, &ce) {
		return ce.Fatal
	}
	return false
}

// InvariantViolation marks a bug-level condition (offset regression, a
// partition double-assigned) that must abort the run loop rather than be
// absorbed.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Msg }

// DecodeError wraps a malformed-record condition. The harness logs it,
// drops the message, and still commits its offset.
type DecodeError struct {
	Partition Partition
	Offset    uint64
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at %s@%d: %v", e.Partition, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
