// Package ingress filters mixed telemetry down to assistance requests and
// enriches them with the device's reported network mode.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oskarhn/gnss-assist/internal/core/observability"
	"github.com/oskarhn/gnss-assist/internal/devicechannel"
	"github.com/oskarhn/gnss-assist/internal/registry"
)

// Enricher selects "get" records out of telemetry batches and attaches the
// device's network mode. The mode cache is populated opportunistically from
// observed twin updates; on a miss the registry is queried and the answer
// cached. Staleness here never blocks a request.
type Enricher struct {
	reg   registry.Interface
	modes *lru.Cache[string, string]
	log   *slog.Logger
}

func New(reg registry.Interface, cacheSize int, log *slog.Logger) *Enricher {
	if cacheSize <= 0 {
		cacheSize = 8192
	}
	if log == nil {
		log = slog.Default()
	}
	modes, _ := lru.New[string, string](cacheSize)
	return &Enricher{reg: reg, modes: modes, log: log}
}

// Filter returns exactly the records flagged as assistance-data requests,
// feeding twin updates into the mode cache on the way past.
func (e *Enricher) Filter(batch []devicechannel.Record) []devicechannel.Record {
	var out []devicechannel.Record
	for _, rec := range batch {
		switch rec.Prop(devicechannel.PropMessageType) {
		case devicechannel.MessageTypeGet:
			observability.IncIngressAccepted()
			out = append(out, rec)
		case devicechannel.MessageTypeTwinUpdate:
			e.observeTwinUpdate(rec)
			observability.IncIngressSkipped()
		default:
			observability.IncIngressSkipped()
		}
	}
	return out
}

// NetworkMode resolves the device's reported network mode: cache first, then
// registry. Returns "" when neither knows; the request proceeds unenriched.
func (e *Enricher) NetworkMode(ctx context.Context, deviceID string) string {
	if mode, ok := e.modes.Get(deviceID); ok {
		return mode
	}
	mode, err := e.reg.NetworkMode(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, registry.ErrDeviceNotFound) {
			e.log.Warn("registry lookup failed", "device", deviceID, "err", err)
		}
		return ""
	}
	if mode != "" {
		e.modes.Add(deviceID, mode)
	}
	return mode
}

type twinUpdate struct {
	Reported struct {
		NetworkMode string `json:"networkMode"`
	} `json:"reported"`
}

func (e *Enricher) observeTwinUpdate(rec devicechannel.Record) {
	if rec.DeviceID == "" {
		return
	}
	var tu twinUpdate
	if err := json.Unmarshal(rec.Payload, &tu); err != nil {
		return
	}
	if tu.Reported.NetworkMode != "" {
		e.modes.Add(rec.DeviceID, tu.Reported.NetworkMode)
	}
}
