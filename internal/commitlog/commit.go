// Package commitlog implements the commit codec and commit-log producer
// half of spec C2: the bit-exact (group, partition, offset) wire format
// published after a primary consumer commits, and a helper that publishes
// one record per committed partition.
package commitlog

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ruezetle/snuba/internal/streams"
)

// DefaultTopic is the default commit-log topic name (spec.md §6).
const DefaultTopic = "snuba-commit-log"

// Commit is a single durable-offset record: "group committed offset o for
// partition p".
type Commit struct {
	Group     string
	Partition streams.Partition
	Offset    uint64
}

// Codec bit-exactly encodes/decodes Commit records: key =
// "<topic>:<index>:<group>", value = decimal ASCII of the offset, no
// whitespace, no newline (spec.md §6).
type Codec struct{}

func (Codec) Encode(c Commit) (streams.KafkaPayload, error) {
	key := c.Partition.Topic.Name + ":" + strconv.FormatInt(int64(c.Partition.Index), 10) + ":" + c.Group
	value := strconv.FormatUint(c.Offset, 10)
	return streams.KafkaPayload{Key: []byte(key), Value: []byte(value)}, nil
}

// Decode parses a commit-log record. Per spec.md §6 and §4.3, a record
// missing a key, or whose value is not a non-negative decimal integer, is
// not a hard error from the codec's point of view for callers that choose
// to ignore it — but Decode itself reports the problem so the caller can
// log and skip it (that choice is the consumer's, not the codec's).
func (Codec) Decode(p streams.KafkaPayload) (Commit, error) {
	if len(p.Key) == 0 {
		return Commit{}, errors.New("commit record missing key")
	}
	key := string(p.Key)
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 {
		return Commit{}, errors.Errorf("malformed commit key %q", key)
	}
	topic, indexStr, group := parts[0], parts[1], parts[2]
	index, err := strconv.ParseInt(indexStr, 10, 32)
	if err != nil {
		return Commit{}, errors.Wrapf(err, "malformed partition index in commit key %q", key)
	}
	offset, err := strconv.ParseUint(strings.TrimSpace(string(p.Value)), 10, 64)
	if err != nil {
		return Commit{}, errors.Wrapf(err, "malformed commit offset %q", string(p.Value))
	}
	return Commit{
		Group:     group,
		Partition: streams.Partition{Topic: streams.Topic{Name: topic}, Index: int32(index)},
		Offset:    offset,
	}, nil
}

// Producer publishes Commit records to a commit-log topic after a primary
// consumer successfully commits its offsets.
type Producer struct {
	topic    streams.Topic
	producer streams.Producer[Commit]
}

// NewProducer wraps an already-constructed streams.Producer[Commit] (built
// by the caller against the commit-log topic with Codec).
func NewProducer(topic streams.Topic, producer streams.Producer[Commit]) *Producer {
	return &Producer{topic: topic, producer: producer}
}

// PublishCommits publishes one commit record per (partition, offset) pair
// in committed, for the given consumer group. It waits for every publish to
// be acknowledged before returning.
func (p *Producer) PublishCommits(ctx context.Context, group string, committed map[streams.Partition]uint64) error {
	futures := make([]*streams.Future[Commit], 0, len(committed))
	for partition, offset := range committed {
		futures = append(futures, p.producer.Produce(ctx, streams.ToTopic(p.topic), Commit{
			Group:     group,
			Partition: partition,
			Offset:    offset,
		}))
	}
	for _, f := range futures {
		if _, err := f.Result(ctx); err != nil {
			return errors.Wrap(err, "publishing commit-log record")
		}
	}
	return nil
}
