// Package kafka implements streams.Consumer and streams.Producer on top of
// github.com/twmb/franz-go/pkg/kgo, the real client library this module's
// teacher (a copy of franz-go's pkg/kgo) is drawn from. Every other
// component in this repository depends only on the streams package's
// interfaces; this package is the sole place kgo is imported.
package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// ConsumerConfig holds the recognized consumer options from spec.md §6.
type ConsumerConfig struct {
	BootstrapServers []string
	ConsumerGroup    string
	AutoOffsetReset  string // "earliest" | "latest" | "error"

	EnableEndOfPartition bool

	QueuedMaxMessagesKbytes int
	QueuedMinMessages       int

	Logger *zap.Logger
}

// offsetOpt returns the kgo option for the configured reset policy, or nil
// for "error": kgo's own default (NoResetOffset) already surfaces a
// recoverable error through Poll when no committed offset exists, which is
// exactly spec.md's "error" policy.
func (c ConsumerConfig) offsetOpt() kgo.Opt {
	switch c.AutoOffsetReset {
	case "earliest":
		return kgo.ConsumeResetOffset(kgo.NewOffset().AtStart())
	case "latest":
		return kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd())
	default:
		return nil
	}
}

// ProducerConfig holds producer-side options.
type ProducerConfig struct {
	BootstrapServers []string
	Partitioner      string // "consistent" (default) or broker default when empty
	MaxMessageBytes  int32
	FlushTimeout     time.Duration

	Logger *zap.Logger
}
