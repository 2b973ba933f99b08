package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/zap"

	"github.com/ruezetle/snuba/internal/streams"
)

// Consumer implements streams.Consumer[V] over a *kgo.Client. One Consumer
// owns exactly one kgo.Client; Poll is not safe to call concurrently with
// itself, matching spec.md's single-poll-thread model.
type Consumer[V any] struct {
	cfg   ConsumerConfig
	codec streams.Codec[V]
	log   *zap.Logger

	cl *kgo.Client

	mu         sync.Mutex // guards onAssign/onRevoke/staged, set once from Subscribe, read from the poll goroutine's callback
	onAssign   streams.AssignCallback
	onRevoke   streams.RevokeCallback
	staged     map[streams.Partition]uint64
	eopEnabled bool

	pendingMu sync.Mutex
	pending   []pendingEvent // assign/revoke events queued by kgo callbacks, drained by the next Poll

	// records/recordIdx buffer a fetch's records across Poll calls: one
	// PollFetches call advances kgo's cursor past every record it returns,
	// so every record must be handed out (one per Poll) before the next
	// PollFetches runs, or offsets past the first would be lost.
	records   []*kgo.Record
	recordIdx int
}

type eventKind int

const (
	eventAssign eventKind = iota
	eventRevoke
)

type pendingEvent struct {
	kind       eventKind
	assignment map[streams.Partition]uint64
	partitions []streams.Partition
}

// NewConsumer constructs a Consumer subscribed to no topics yet; call
// Subscribe to begin consuming.
func NewConsumer[V any](cfg ConsumerConfig, codec streams.Codec[V]) (*Consumer[V], error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Consumer[V]{
		cfg:        cfg,
		codec:      codec,
		log:        cfg.Logger,
		staged:     make(map[streams.Partition]uint64),
		eopEnabled: cfg.EnableEndOfPartition,
	}
	return c, nil
}

func (c *Consumer[V]) Subscribe(ctx context.Context, topics []string, onAssign streams.AssignCallback, onRevoke streams.RevokeCallback) error {
	c.mu.Lock()
	c.onAssign, c.onRevoke = onAssign, onRevoke
	c.mu.Unlock()

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.BootstrapServers...),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumerGroup(c.cfg.ConsumerGroup),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(c.handleAssigned),
		kgo.OnPartitionsRevoked(c.handleRevoked),
		kgo.OnPartitionsLost(c.handleRevoked),
		kgo.WithLogger(newKgoLogger(c.log)),
	}
	if opt := c.cfg.offsetOpt(); opt != nil {
		opts = append(opts, opt)
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return errors.Wrap(err, "constructing kafka client")
	}
	c.cl = cl
	return nil
}

// handleAssigned and handleRevoked run on kgo's internal group-management
// goroutine; they only enqueue events for the poll thread to drain,
// honoring the "no callback escapes the poll thread" design note.
func (c *Consumer[V]) handleAssigned(_ context.Context, cl *kgo.Client, assigned map[string][]int32) {
	assignment := make(map[streams.Partition]uint64)
	for topic, partitions := range assigned {
		for _, p := range partitions {
			assignment[streams.Partition{Topic: streams.Topic{Name: topic}, Index: p}] = 0
		}
	}
	c.pendingMu.Lock()
	c.pending = append(c.pending, pendingEvent{kind: eventAssign, assignment: assignment})
	c.pendingMu.Unlock()

	// Partitions start paused until the next Poll drains this event and
	// the caller (e.g. the synchronized consumer) decides to release them.
	cl.PauseFetchPartitions(assigned)
}

func (c *Consumer[V]) handleRevoked(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
	var partitions []streams.Partition
	for topic, ps := range revoked {
		for _, p := range ps {
			partitions = append(partitions, streams.Partition{Topic: streams.Topic{Name: topic}, Index: p})
		}
	}
	c.pendingMu.Lock()
	c.pending = append(c.pending, pendingEvent{kind: eventRevoke, partitions: partitions})
	c.pendingMu.Unlock()
}

func (c *Consumer[V]) drainPending() {
	c.pendingMu.Lock()
	events := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case eventAssign:
			if c.onAssign != nil {
				c.onAssign(ev.assignment)
			}
		case eventRevoke:
			if c.onRevoke != nil {
				c.onRevoke(ev.partitions)
			}
		}
	}
}

// Unsubscribe clears topic interest and assigns no partitions; per
// spec.md §4.1 the revoke callback for any currently assigned partitions
// fires on the next Poll via the ordinary OnPartitionsRevoked path kgo
// drives from AssignGroup(nil, ...).
func (c *Consumer[V]) Unsubscribe(ctx context.Context) error {
	c.cl.AssignGroup(c.cfg.ConsumerGroup)
	return nil
}

// Poll returns the next decoded message (nil when the timeout passes), an
// *streams.ConsumerError, or a *streams.DecodeError; see
// isEndOfPartitionErr for end-of-partition. It drains pending
// rebalance callbacks first, per spec.md's "callbacks fire inside poll"
// contract.
//
// PollFetches advances kgo's consume cursor past every record it returns
// in one call, so every one of those records must eventually be handed
// back through Poll. Buffering them on the Consumer and draining one per
// call is what makes that true; Poll is documented as single-threaded, so
// no locking is needed around the buffer.
func (c *Consumer[V]) Poll(ctx context.Context, timeout time.Duration) (*streams.Message[V], error) {
	c.drainPending()

	if c.recordIdx >= len(c.records) {
		pollCtx, cancel := context.WithTimeout(ctx, timeout)
		fetches := c.cl.PollFetches(pollCtx)
		cancel()
		c.drainPending() // a poll can itself trigger a rebalance

		if errs := fetches.Errors(); len(errs) > 0 {
			fe := errs[0]
			if errors.Is(fe.Err, context.DeadlineExceeded) && ctx.Err() == nil {
				// kgo reports the poll timeout as an injected fetch error.
				return nil, nil
			}
			partition := streams.Partition{Topic: streams.Topic{Name: fe.Topic}, Index: fe.Partition}
			if isEndOfPartitionErr(fe.Err) {
				if !c.eopEnabled {
					return nil, nil
				}
				return nil, &streams.EndOfPartition{Partition: partition}
			}
			return nil, &streams.ConsumerError{
				Partition: partition,
				Fatal:     !isRetriable(fe.Err),
				Err:       fe.Err,
			}
		}

		c.records = fetches.Records()
		c.recordIdx = 0
	}

	if c.recordIdx >= len(c.records) {
		return nil, nil
	}

	r := c.records[c.recordIdx]
	c.recordIdx++

	payload := streams.KafkaPayload{Key: r.Key, Value: r.Value}
	partition := streams.Partition{Topic: streams.Topic{Name: r.Topic}, Index: r.Partition}
	v, err := c.codec.Decode(payload)
	if err != nil {
		c.log.Warn("decode error", zap.String("partition", partition.String()), zap.Int64("offset", r.Offset), zap.Error(err))
		return nil, &streams.DecodeError{Partition: partition, Offset: uint64(r.Offset), Err: err}
	}

	return &streams.Message[V]{
		Partition: partition,
		Offset:    uint64(r.Offset),
		Payload:   v,
		Timestamp: r.Timestamp,
	}, nil
}

func (c *Consumer[V]) Pause(partitions []streams.Partition) {
	c.cl.PauseFetchPartitions(toKgoMap(partitions))
}

func (c *Consumer[V]) Resume(partitions []streams.Partition) {
	c.cl.ResumeFetchPartitions(toKgoMap(partitions))
}

func (c *Consumer[V]) Paused() []streams.Partition {
	return fromKgoMap(c.cl.PauseFetchPartitions(nil))
}

// Tell returns the next-to-be-read offset per assigned partition, derived
// from kgo's uncommitted-offset tracking (the cursor position past the
// last delivered record).
func (c *Consumer[V]) Tell() map[streams.Partition]uint64 {
	out := make(map[streams.Partition]uint64)
	for topic, partitions := range c.cl.UncommittedOffsets() {
		for partition, eo := range partitions {
			out[streams.Partition{Topic: streams.Topic{Name: topic}, Index: partition}] = uint64(eo.Offset)
		}
	}
	return out
}

func (c *Consumer[V]) Seek(offsets map[streams.Partition]uint64) error {
	setOffsets := make(map[string]map[int32]kgo.EpochOffset)
	for p, o := range offsets {
		m, ok := setOffsets[p.Topic.Name]
		if !ok {
			m = make(map[int32]kgo.EpochOffset)
			setOffsets[p.Topic.Name] = m
		}
		m[p.Index] = kgo.EpochOffset{Epoch: -1, Offset: int64(o)}
	}
	c.cl.SetOffsets(setOffsets)
	return nil
}

func (c *Consumer[V]) StageOffsets(offsets map[streams.Partition]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for p, o := range offsets {
		c.staged[p] = o
	}
}

func (c *Consumer[V]) CommitOffsets(ctx context.Context) (map[streams.Partition]uint64, error) {
	c.mu.Lock()
	toCommit := c.staged
	c.staged = make(map[streams.Partition]uint64)
	c.mu.Unlock()

	if len(toCommit) == 0 {
		return nil, nil
	}

	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for p, o := range toCommit {
		m, ok := offsets[p.Topic.Name]
		if !ok {
			m = make(map[int32]kgo.EpochOffset)
			offsets[p.Topic.Name] = m
		}
		m[p.Index] = kgo.EpochOffset{Epoch: -1, Offset: int64(o)}
	}

	var commitErr error
	committed := make(map[streams.Partition]uint64, len(toCommit))
	c.cl.CommitOffsetsSync(ctx, offsets, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
		if err != nil {
			commitErr = err
			return
		}
		for _, topic := range resp.Topics {
			for _, part := range topic.Partitions {
				if part.ErrorCode != 0 {
					continue
				}
				committed[streams.Partition{Topic: streams.Topic{Name: topic.Topic}, Index: part.Partition}] = uint64(offsets[topic.Topic][part.Partition].Offset)
			}
		}
	})
	if commitErr != nil {
		return nil, errors.Wrap(commitErr, "committing offsets")
	}
	return committed, nil
}

func (c *Consumer[V]) Close() error {
	if c.cl == nil {
		return nil
	}
	c.cl.Close()
	return nil
}

func toKgoMap(partitions []streams.Partition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, p := range partitions {
		m[p.Topic.Name] = append(m[p.Topic.Name], p.Index)
	}
	return m
}

func fromKgoMap(m map[string][]int32) []streams.Partition {
	var out []streams.Partition
	for topic, ps := range m {
		for _, p := range ps {
			out = append(out, streams.Partition{Topic: streams.Topic{Name: topic}, Index: p})
		}
	}
	return out
}

// isEndOfPartitionErr and isRetriable classify kgo fetch errors. kgo does
// not report end-of-partition as a distinct fetch error and nothing
// produces errEndOfPartition, so Poll never returns *streams.EndOfPartition,
// whatever EnableEndOfPartition is set to. An error counts as retriable
// only if it exposes IsRetriable() and that reports true; every other
// fetch error is surfaced as a fatal ConsumerError.
func isEndOfPartitionErr(err error) bool {
	return errors.Is(err, errEndOfPartition)
}

func isRetriable(err error) bool {
	var kerr interface{ IsRetriable() bool }
	if errors.As(err, &kerr) {
		return kerr.IsRetriable()
	}
	return false
}

var errEndOfPartition = errors.New("end of partition")
