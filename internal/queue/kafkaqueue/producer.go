package kafkaqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/oskarhn/gnss-assist/internal/queue"
)

// Producer implements queue.Enqueuer on a Kafka sync producer.
type Producer struct {
	sp    sarama.SyncProducer
	clock func() time.Time
}

func NewProducer(brokers []string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &Producer{sp: sp, clock: time.Now}, nil
}

// NewProducerFrom wraps an existing sync producer (shared with the device
// channel sender).
func NewProducerFrom(sp sarama.SyncProducer) *Producer {
	return &Producer{sp: sp, clock: time.Now}
}

func (p *Producer) Enqueue(ctx context.Context, topic string, body []byte, opts queue.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.clock()
	var notBefore, expiresAt time.Time
	if opts.Delay > 0 {
		notBefore = now.Add(opts.Delay)
	}
	if opts.TTL > 0 {
		expiresAt = now.Add(opts.TTL)
	}
	if _, _, err := p.sp.SendMessage(envelope(topic, body, notBefore, expiresAt)); err != nil {
		return fmt.Errorf("kafka send %q: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if err := p.sp.Close(); err != nil {
		return fmt.Errorf("kafka producer close: %w", err)
	}
	return nil
}
