// Package queue defines the delay-capable work queue the pipeline schedules
// itself on. Messages carry a visibility delay (not consumable before) and a
// TTL (discarded after), matching the platform-queue semantics the retry
// design relies on.
package queue

import (
	"context"
	"time"
)

// Options controls the scheduling of a single message.
type Options struct {
	// Delay keeps the message invisible to consumers until now+Delay.
	Delay time.Duration
	// TTL discards the message if it is still unconsumed after now+TTL.
	// Zero means no expiry.
	TTL time.Duration
}

// Enqueuer sends messages to a named topic.
type Enqueuer interface {
	Enqueue(ctx context.Context, topic string, body []byte, opts Options) error
}

// Handler processes one due, unexpired message.
type Handler func(ctx context.Context, body []byte) error
