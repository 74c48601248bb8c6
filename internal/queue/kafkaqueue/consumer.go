package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oskarhn/gnss-assist/internal/core/observability"
	"github.com/oskarhn/gnss-assist/internal/queue"
)

type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func (c *ConsumerConfig) defaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout == 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
}

// MessageHandler processes one due, unexpired message with its headers.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Body adapts a body-only queue.Handler into a MessageHandler.
func Body(h queue.Handler) MessageHandler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		return h(ctx, msg.Value)
	}
}

// Consumer runs a consumer group and routes each due message to the handler
// registered for its topic. It enforces the scheduling headers: messages are
// held until their not-before time and dropped once expired.
type Consumer struct {
	log      *slog.Logger
	cfg      ConsumerConfig
	handlers map[string]MessageHandler
	ms       *metricSet
	clock    func() time.Time

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

type ConsumerOptions struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
	Clock    func() time.Time
}

func NewConsumer(cfg ConsumerConfig, handlers map[string]MessageHandler, opts ConsumerOptions) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	cfg.defaults()
	return &Consumer{
		log:      opts.Logger,
		cfg:      cfg,
		handlers: handlers,
		ms:       newMetricSet(opts.Register),
		clock:    opts.Clock,
		assign:   map[int32]struct{}{},
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			claims := sess.Claims()
			c.assignMu.Lock()
			c.assigned.Store(true)
			c.assign = map[int32]struct{}{}
			for _, parts := range claims {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(false)
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.handleMessage,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, c.cfg.Topics, h); err != nil {
				c.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			c.log.Error("kafka group error", "err", err)
		}
	}()

	c.log.Info("kafka consumer started",
		"topics", c.cfg.Topics, "group", c.cfg.GroupID, "brokers", c.cfg.Brokers)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("kafka consumer stopped")
}

func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := c.clock()

	if !msg.Timestamp.IsZero() {
		lag := start.Sub(msg.Timestamp).Seconds()
		c.ms.lagGauge.Set(lag)
		observability.SetQueueLag(lag)
	}

	handler, ok := c.handlers[msg.Topic]
	if !ok {
		c.ms.msgs.WithLabelValues(msg.Topic, "unrouted").Inc()
		return nil
	}

	notBefore, expiresAt := schedule(msg.Headers)

	if !expiresAt.IsZero() && c.clock().After(expiresAt) {
		c.ms.msgs.WithLabelValues(msg.Topic, "expired").Inc()
		observability.IncQueueExpired()
		return nil
	}

	// Hold the partition until the message is due. The delay is bounded by
	// the scheduler's cap, so this blocks for minutes at most.
	if wait := notBefore.Sub(c.clock()); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := handler(ctx, msg)
	if err != nil {
		c.ms.msgs.WithLabelValues(msg.Topic, "error").Inc()
	} else {
		c.ms.msgs.WithLabelValues(msg.Topic, "ok").Inc()
	}
	c.ms.proc.WithLabelValues(msg.Topic).Observe(c.clock().Sub(start).Seconds())
	return err
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
