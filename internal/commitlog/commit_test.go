package commitlog

import (
	"testing"

	"github.com/ruezetle/snuba/internal/streams"
)

func TestCodec_RoundTrip(t *testing.T) {
	c := Commit{
		Group:     "group",
		Partition: streams.Partition{Topic: streams.Topic{Name: "t"}, Index: 0},
		Offset:    42,
	}

	payload, err := Codec{}.Encode(c)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got, want := string(payload.Key), "t:0:group"; got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
	if got, want := string(payload.Value), "42"; got != want {
		t.Fatalf("value = %q, want %q", got, want)
	}

	decoded, err := Codec{}.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != c {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, c)
	}
}

func TestCodec_DecodeRejectsMalformedRecords(t *testing.T) {
	if _, err := (Codec{}).Decode(streams.KafkaPayload{Key: nil, Value: []byte("1")}); err == nil {
		t.Fatal("expected error for missing key")
	}
	if _, err := (Codec{}).Decode(streams.KafkaPayload{Key: []byte("t:0:group"), Value: []byte("not-a-number")}); err == nil {
		t.Fatal("expected error for malformed offset")
	}
	if _, err := (Codec{}).Decode(streams.KafkaPayload{Key: []byte("missing-parts"), Value: []byte("1")}); err == nil {
		t.Fatal("expected error for malformed key")
	}
}
