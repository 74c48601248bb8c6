package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/cache"
	"github.com/oskarhn/gnss-assist/internal/logger"
)

// Job is the resolve-queue message created when a requester claims a cache
// key. One job produces exactly one terminal cache write.
type Job struct {
	Key     string         `json:"key"`
	Request assist.Request `json:"request"`
}

// Worker consumes resolve jobs and owns the terminal cache transitions.
type Worker struct {
	client *Client
	cache  *cache.ResolutionCache
	log    *slog.Logger
}

func NewWorker(client *Client, rc *cache.ResolutionCache, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{client: client, cache: rc, log: log}
}

// Handle resolves one job. Resolver failures mark the key failed (terminal
// for this bucket); cache I/O failures abort the invocation and propagate.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode resolve job: %w", err)
	}

	ctx = logger.WithProtocol(ctx, string(job.Request.Protocol))
	ctx = logger.WithCacheKey(ctx, job.Key)

	payloads, err := w.client.Resolve(ctx, job.Request)
	if err != nil {
		if errors.Is(err, ErrBadGateway) {
			w.log.ErrorContext(ctx, "resolution failed", "err", err)
			if mErr := w.cache.MarkFailed(ctx, job.Key, job.Request); mErr != nil {
				return mErr
			}
			return nil
		}
		return err
	}

	if err := w.cache.MarkResolved(ctx, job.Key, job.Request, payloads); err != nil {
		return err
	}
	w.log.InfoContext(ctx, "resolved", "payloads", len(payloads))
	return nil
}
