package kafkaqueue

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func consumedHeaders(msg *sarama.ProducerMessage) []*sarama.RecordHeader {
	out := make([]*sarama.RecordHeader, len(msg.Headers))
	for i := range msg.Headers {
		out[i] = &msg.Headers[i]
	}
	return out
}

func TestEnvelopeScheduleRoundtrip(t *testing.T) {
	notBefore := time.Date(2025, 3, 14, 10, 0, 5, 123456789, time.UTC)
	expiresAt := notBefore.Add(3 * time.Minute)

	msg := envelope("retry", []byte(`{"x":1}`), notBefore, expiresAt)
	if msg.Topic != "retry" {
		t.Fatalf("topic %q", msg.Topic)
	}
	body, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode value: %v", err)
	}
	if string(body) != `{"x":1}` {
		t.Fatalf("body %q", body)
	}

	nb, ea := schedule(consumedHeaders(msg))
	if !nb.Equal(notBefore) {
		t.Fatalf("not-before roundtrip: want %v, got %v", notBefore, nb)
	}
	if !ea.Equal(expiresAt) {
		t.Fatalf("expires-at roundtrip: want %v, got %v", expiresAt, ea)
	}
}

func TestEnvelopeZeroTimesOmitHeaders(t *testing.T) {
	msg := envelope("resolve", []byte("body"), time.Time{}, time.Time{})
	if len(msg.Headers) != 0 {
		t.Fatalf("want no scheduling headers, got %d", len(msg.Headers))
	}
	nb, ea := schedule(consumedHeaders(msg))
	if !nb.IsZero() || !ea.IsZero() {
		t.Fatalf("want zero times back, got %v / %v", nb, ea)
	}
}

func TestScheduleIgnoresGarbageHeaders(t *testing.T) {
	headers := []*sarama.RecordHeader{
		nil,
		{Key: []byte("not-before"), Value: []byte("yesterday-ish")},
		{Key: []byte("unrelated"), Value: []byte("x")},
	}
	nb, ea := schedule(headers)
	if !nb.IsZero() || !ea.IsZero() {
		t.Fatalf("unparsable headers must read as zero, got %v / %v", nb, ea)
	}
}
