// Package pipeline composes ingress filtering, request normalization and the
// scheduler into the handlers the daemon's consumers run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/devicechannel"
	"github.com/oskarhn/gnss-assist/internal/ingress"
	"github.com/oskarhn/gnss-assist/internal/logger"
	"github.com/oskarhn/gnss-assist/internal/scheduler"
)

type Pipeline struct {
	enricher *ingress.Enricher
	sched    *scheduler.Scheduler
	log      *slog.Logger
}

func New(enricher *ingress.Enricher, sched *scheduler.Scheduler, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{enricher: enricher, sched: sched, log: log}
}

// HandleTelemetry runs one inbound batch through filter → normalize →
// scheduler. Validation failures are dropped with a local log; the device
// never hears about them. Infrastructure errors abort the batch.
func (p *Pipeline) HandleTelemetry(ctx context.Context, batch []devicechannel.Record) error {
	for _, rec := range p.enricher.Filter(batch) {
		rctx := logger.WithDevice(ctx, rec.DeviceID)
		rctx = logger.WithProtocol(rctx, rec.Prop(devicechannel.PropProtocol))

		req, err := p.normalize(rctx, rec)
		if err != nil {
			if errors.Is(err, assist.ErrValidation) {
				p.log.WarnContext(rctx, "dropping invalid request", "err", err)
				continue
			}
			return err
		}
		if _, err := p.sched.Fresh(rctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) normalize(ctx context.Context, rec devicechannel.Record) (assist.Request, error) {
	proto, err := assist.Lookup(rec.Prop(devicechannel.PropProtocol))
	if err != nil {
		return assist.Request{}, err
	}

	var raw assist.RawRequest
	if err := json.Unmarshal(rec.Payload, &raw); err != nil {
		return assist.Request{}, errors.Join(assist.ErrValidation, err)
	}

	req, err := proto.Normalize(rec.DeviceID, raw)
	if err != nil {
		return assist.Request{}, err
	}

	// Enrichment is best-effort; an unknown mode never blocks the request.
	req.NetworkMode = p.enricher.NetworkMode(ctx, rec.DeviceID)
	return req, nil
}
