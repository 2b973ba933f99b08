// Package streamstest provides an in-memory fake broker implementing
// streams.Consumer and streams.Producer, used to test C3 (synchronized
// consumer), C4 (batching harness), C6 (tick consumer) and C8
// (subscription worker) without a live Kafka cluster. Not for production
// use.
package streamstest

import (
	"sync"
	"time"

	"github.com/ruezetle/snuba/internal/streams"
)

type record struct {
	payload   streams.KafkaPayload
	timestamp time.Time
}

type partitionLog struct {
	mu        sync.Mutex
	records   []record
	committed map[string]uint64 // group -> committed offset
}

type topicLog struct {
	partitions []*partitionLog
}

// Broker is a shared in-memory log, partitioned per topic, that any number
// of Consumer/Producer fakes can be built against.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topicLog
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*topicLog)}
}

// EnsureTopic creates a topic with the given partition count if it does
// not already exist. Safe to call more than once with the same count.
func (b *Broker) EnsureTopic(name string, partitions int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return
	}
	t := &topicLog{partitions: make([]*partitionLog, partitions)}
	for i := range t.partitions {
		t.partitions[i] = &partitionLog{committed: make(map[string]uint64)}
	}
	b.topics[name] = t
}

func (b *Broker) topic(name string) *topicLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topicLog{partitions: []*partitionLog{{committed: make(map[string]uint64)}}}
		b.topics[name] = t
	}
	return t
}

// Produce appends a record to topic at partition (round-robin across the
// topic's partitions if partition is nil) and returns where it landed.
func (b *Broker) Produce(topicName string, partition *int32, payload streams.KafkaPayload, ts time.Time) (streams.Partition, uint64) {
	t := b.topic(topicName)
	idx := int32(0)
	if partition != nil {
		idx = *partition
	} else if len(t.partitions) > 1 {
		total := 0
		for _, pl := range t.partitions {
			pl.mu.Lock()
			total += len(pl.records)
			pl.mu.Unlock()
		}
		idx = int32(total % len(t.partitions))
	}
	p := t.partitions[idx]

	p.mu.Lock()
	defer p.mu.Unlock()
	offset := uint64(len(p.records))
	p.records = append(p.records, record{payload: payload, timestamp: ts})
	return streams.Partition{Topic: streams.Topic{Name: topicName}, Index: idx}, offset
}

// PartitionCount returns how many partitions a topic has, creating it with
// one partition if it doesn't exist yet.
func (b *Broker) PartitionCount(topicName string) int {
	return len(b.topic(topicName).partitions)
}

func (b *Broker) partitionLog(p streams.Partition) *partitionLog {
	t := b.topic(p.Topic.Name)
	if int(p.Index) >= len(t.partitions) {
		return nil
	}
	return t.partitions[p.Index]
}

// HighWatermark returns the next offset to be written on a partition.
func (b *Broker) HighWatermark(p streams.Partition) uint64 {
	pl := b.partitionLog(p)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return uint64(len(pl.records))
}

// CommittedOffset returns the last offset committed by group on partition,
// and whether one exists.
func (b *Broker) CommittedOffset(group string, p streams.Partition) (uint64, bool) {
	pl := b.partitionLog(p)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	o, ok := pl.committed[group]
	return o, ok
}
