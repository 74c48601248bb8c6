// Package scheduler implements the retry/backoff state machine that bridges
// asynchronous resolution over a fire-and-forget device channel: each
// invocation observes the cache state and either delivers, reports a terminal
// failure, or re-enqueues itself with a growing visibility delay until an
// absolute deadline.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/assist/keys"
	"github.com/oskarhn/gnss-assist/internal/cache"
	"github.com/oskarhn/gnss-assist/internal/core/observability"
	"github.com/oskarhn/gnss-assist/internal/logger"
	"github.com/oskarhn/gnss-assist/internal/queue"
	"github.com/oskarhn/gnss-assist/internal/resolver"
)

// Outcome is what one scheduler invocation did with a delivery.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomePending   Outcome = "pending"
)

// PendingDelivery is the queue-resident wait state for one device's request.
// Destroyed (not re-enqueued) on resolution, failure or timeout.
type PendingDelivery struct {
	DeviceID     string         `json:"deviceId"`
	Request      assist.Request `json:"request"`
	FirstSeenAt  time.Time      `json:"firstSeenAt"`
	CurrentDelay time.Duration  `json:"currentDelay"`
}

// Dispatcher hands resolved payloads to the device channel.
type Dispatcher interface {
	Deliver(ctx context.Context, deviceID string, protocol assist.ProtocolName, payloads [][]byte) error
}

type Config struct {
	BinHours          int
	InitialDelay      time.Duration
	DelayFactor       float64
	MaxDelay          time.Duration
	MaxResolutionTime time.Duration

	RetryTopic   string
	ResolveTopic string
}

func (c *Config) defaults() {
	if c.BinHours < 1 {
		c.BinHours = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 5 * time.Second
	}
	if c.DelayFactor <= 1 {
		c.DelayFactor = 1.5
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 900 * time.Second
	}
	if c.MaxResolutionTime <= 0 {
		c.MaxResolutionTime = 3 * time.Minute
	}
}

type Scheduler struct {
	cfg   Config
	cache *cache.ResolutionCache
	q     queue.Enqueuer
	disp  Dispatcher
	log   *slog.Logger
	clock func() time.Time
}

type Options struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

func New(cfg Config, rc *cache.ResolutionCache, q queue.Enqueuer, disp Dispatcher, opts Options) *Scheduler {
	cfg.defaults()
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Scheduler{
		cfg:   cfg,
		cache: rc,
		q:     q,
		disp:  disp,
		log:   opts.Logger,
		clock: opts.Clock,
	}
}

// Fresh starts the state machine for a request that just arrived from the
// device channel.
func (s *Scheduler) Fresh(ctx context.Context, req assist.Request) (Outcome, error) {
	return s.Handle(ctx, PendingDelivery{
		DeviceID:    req.DeviceID,
		Request:     req,
		FirstSeenAt: s.clock(),
	})
}

// HandleRetry processes one dequeued PendingDelivery message.
func (s *Scheduler) HandleRetry(ctx context.Context, body []byte) error {
	var pd PendingDelivery
	if err := json.Unmarshal(body, &pd); err != nil {
		return fmt.Errorf("decode pending delivery: %w", err)
	}
	_, err := s.Handle(ctx, pd)
	return err
}

// Handle runs one invocation of the state machine. Infrastructure errors
// (cache or queue I/O) abort the invocation and propagate; they are never
// retried here.
func (s *Scheduler) Handle(ctx context.Context, pd PendingDelivery) (Outcome, error) {
	protocol := string(pd.Request.Protocol)
	key := keys.Key(pd.Request, s.cfg.BinHours, s.clock())

	ctx = logger.WithDevice(ctx, pd.DeviceID)
	ctx = logger.WithProtocol(ctx, protocol)
	ctx = logger.WithCacheKey(ctx, key)

	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}

	// Absent: claim the key and proceed as pending.
	if entry == nil {
		if err := s.claim(ctx, key, pd.Request); err != nil {
			return "", err
		}
	}

	switch {
	case entry != nil && entry.Resolved():
		if err := s.disp.Deliver(ctx, pd.DeviceID, pd.Request.Protocol, entry.Payloads); err != nil {
			return "", err
		}
		observability.IncSchedulerOutcome(protocol, string(OutcomeDelivered))
		s.log.InfoContext(ctx, "delivered", "payloads", len(entry.Payloads))
		return OutcomeDelivered, nil

	case entry != nil && entry.Failed():
		observability.IncSchedulerOutcome(protocol, string(OutcomeFailed))
		s.log.WarnContext(ctx, "resolution failed for key, dropping delivery")
		return OutcomeFailed, nil
	}

	// Still pending: time out or requeue with more delay.
	age := s.clock().Sub(pd.FirstSeenAt)
	if age > s.cfg.MaxResolutionTime {
		observability.IncSchedulerOutcome(protocol, string(OutcomeTimedOut))
		s.log.WarnContext(ctx, "resolution deadline exceeded, dropping delivery", "age", age)
		return OutcomeTimedOut, nil
	}

	next := s.nextDelay(pd.CurrentDelay)
	pd.CurrentDelay = next
	body, err := json.Marshal(pd)
	if err != nil {
		return "", fmt.Errorf("encode pending delivery: %w", err)
	}
	// The message's own TTL mirrors the deadline so the queue garbage-collects
	// abandoned attempts on its own.
	err = s.q.Enqueue(ctx, s.cfg.RetryTopic, body, queue.Options{
		Delay: next,
		TTL:   s.cfg.MaxResolutionTime,
	})
	if err != nil {
		return "", err
	}
	observability.IncSchedulerOutcome(protocol, string(OutcomePending))
	observability.ObserveRequeueDelay(protocol, next.Seconds())
	s.log.DebugContext(ctx, "requeued pending delivery", "delay", next, "age", age)
	return OutcomePending, nil
}

// claim writes the pending entry and hands the resolve job to the resolver
// queue. Losing the create race means another requester already enqueued the
// job; only the winner triggers resolution.
func (s *Scheduler) claim(ctx context.Context, key string, req assist.Request) error {
	err := s.cache.CreatePending(ctx, key, req)
	if errors.Is(err, cache.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}

	job, err := json.Marshal(resolver.Job{Key: key, Request: req})
	if err != nil {
		return fmt.Errorf("encode resolve job: %w", err)
	}
	if err := s.q.Enqueue(ctx, s.cfg.ResolveTopic, job, queue.Options{}); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "resolution claimed")
	return nil
}

// nextDelay = min(cap, (current or initial) * factor), so successive delays
// grow geometrically and never shrink.
func (s *Scheduler) nextDelay(current time.Duration) time.Duration {
	base := current
	if base <= 0 {
		base = s.cfg.InitialDelay
	}
	next := time.Duration(float64(base) * s.cfg.DelayFactor)
	if next > s.cfg.MaxDelay {
		next = s.cfg.MaxDelay
	}
	return next
}
