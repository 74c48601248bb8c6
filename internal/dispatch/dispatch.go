// Package dispatch pushes resolved assistance payloads back to devices.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/core/observability"
	"github.com/oskarhn/gnss-assist/internal/devicechannel"
)

type Dispatcher struct {
	ch  devicechannel.Sender
	log *slog.Logger
}

func New(ch devicechannel.Sender, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{ch: ch, log: log}
}

// Deliver sends each payload as its own device message, tagged with the
// protocol's result marker so the device can tell assistance responses from
// other channel traffic. The channel does not preserve ordering between the
// messages and devices must not rely on it.
func (d *Dispatcher) Deliver(ctx context.Context, deviceID string, protocol assist.ProtocolName, payloads [][]byte) error {
	p, err := assist.Lookup(string(protocol))
	if err != nil {
		return err
	}
	props := map[string]string{
		devicechannel.PropResultMarker: p.ResultMarker(),
		devicechannel.PropContentType:  "application/octet-stream",
	}
	for i, payload := range payloads {
		err := d.ch.Send(ctx, deviceID, payload, props)
		observability.IncDelivery(string(protocol), err)
		if err != nil {
			return fmt.Errorf("deliver payload %d/%d to %q: %w", i+1, len(payloads), deviceID, err)
		}
	}
	d.log.DebugContext(ctx, "payloads delivered", "count", len(payloads))
	return nil
}
