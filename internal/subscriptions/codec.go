package subscriptions

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ruezetle/snuba/internal/streams"
)

// resultWireV1 is the version-1 wire shape of SubscriptionResult.
type resultWireV1 struct {
	SubscriptionID string           `json:"subscription_id"`
	Topic          string           `json:"topic"`
	Partition      int32            `json:"partition"`
	TickUpperUnix  int64            `json:"tick_upper"`
	Request        string           `json:"request"`
	Rows           []map[string]any `json:"rows"`
}

// ResultCodec is the versioned wire codec for SubscriptionResult (spec.md
// §6: "compatibility boundary is the codec, which MUST be versioned").
// Byte 0 of the value is the version; version 1 is JSON.
type ResultCodec struct{}

const resultVersion1 = byte(1)

func (ResultCodec) Encode(r SubscriptionResult) (streams.KafkaPayload, error) {
	wire := resultWireV1{
		SubscriptionID: r.SubscriptionID.String(),
		Topic:          r.Partition.Topic.Name,
		Partition:      r.Partition.Index,
		TickUpperUnix:  r.TickUpper.UnixNano(),
		Request:        r.Request,
		Rows:           r.Result.Rows,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return streams.KafkaPayload{}, errors.Wrap(err, "encoding subscription result")
	}
	value := make([]byte, 0, len(body)+1)
	value = append(value, resultVersion1)
	value = append(value, body...)
	return streams.KafkaPayload{Key: []byte(r.SubscriptionID.String()), Value: value}, nil
}

func (ResultCodec) Decode(p streams.KafkaPayload) (SubscriptionResult, error) {
	if len(p.Value) < 1 {
		return SubscriptionResult{}, errors.New("empty subscription result payload")
	}
	version := p.Value[0]
	if version != resultVersion1 {
		return SubscriptionResult{}, errors.Errorf("unsupported subscription result version %d", version)
	}
	var wire resultWireV1
	if err := json.Unmarshal(p.Value[1:], &wire); err != nil {
		return SubscriptionResult{}, errors.Wrap(err, "decoding subscription result")
	}
	return resultFromWire(wire)
}

func resultFromWire(wire resultWireV1) (SubscriptionResult, error) {
	id, err := uuid.Parse(wire.SubscriptionID)
	if err != nil {
		return SubscriptionResult{}, errors.Wrap(err, "parsing subscription id")
	}
	return SubscriptionResult{
		SubscriptionID: id,
		Partition:      streams.Partition{Topic: streams.Topic{Name: wire.Topic}, Index: wire.Partition},
		TickUpper:      time.Unix(0, wire.TickUpperUnix).UTC(),
		Request:        wire.Request,
		Result:         QueryResult{Rows: wire.Rows},
	}, nil
}
