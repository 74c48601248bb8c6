package devicechannel

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaSender writes outbound device messages to the device topic, keyed by
// device id so one device's messages stay on one partition.
type KafkaSender struct {
	sp    sarama.SyncProducer
	topic string
}

func NewKafkaSender(sp sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{sp: sp, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, deviceID string, payload []byte, properties map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(deviceID),
		Value: sarama.ByteEncoder(payload),
	}
	for k, v := range properties {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	if _, _, err := s.sp.SendMessage(msg); err != nil {
		return fmt.Errorf("device send %q: %w", deviceID, err)
	}
	return nil
}

// RecordFromMessage converts a consumed telemetry message into a Record,
// lifting headers into properties and the key into the device id.
func RecordFromMessage(msg *sarama.ConsumerMessage) Record {
	props := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		if h != nil {
			props[string(h.Key)] = string(h.Value)
		}
	}
	deviceID := string(msg.Key)
	if deviceID == "" {
		deviceID = props[PropDeviceID]
	}
	return Record{DeviceID: deviceID, Payload: msg.Value, Properties: props}
}
