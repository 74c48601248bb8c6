package kafkaqueue

import (
	"time"

	"github.com/IBM/sarama"
)

// The visibility delay and TTL travel as headers so any consumer can enforce
// them; Kafka itself has neither concept per message.
const (
	headerNotBefore = "not-before"
	headerExpiresAt = "expires-at"
)

func envelope(topic string, body []byte, notBefore, expiresAt time.Time) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(body),
	}
	if !notBefore.IsZero() {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(headerNotBefore),
			Value: []byte(notBefore.UTC().Format(time.RFC3339Nano)),
		})
	}
	if !expiresAt.IsZero() {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(headerExpiresAt),
			Value: []byte(expiresAt.UTC().Format(time.RFC3339Nano)),
		})
	}
	return msg
}

// schedule reads the scheduling headers back off a consumed message.
// A header that is absent or unparsable reads as the zero time.
func schedule(headers []*sarama.RecordHeader) (notBefore, expiresAt time.Time) {
	for _, h := range headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case headerNotBefore:
			if t, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				notBefore = t
			}
		case headerExpiresAt:
			if t, err := time.Parse(time.RFC3339Nano, string(h.Value)); err == nil {
				expiresAt = t
			}
		}
	}
	return notBefore, expiresAt
}
