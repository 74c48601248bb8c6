// Package devicechannel models the bidirectional device message channel:
// batched inbound telemetry records with out-of-band properties, and
// fire-and-forget outbound sends tagged per message.
package devicechannel

import "context"

// Property keys carried alongside device records.
const (
	PropDeviceID     = "deviceId"
	PropMessageType  = "messageType"
	PropProtocol     = "protocol"
	PropResultMarker = "resultMarker"
	PropContentType  = "content-type"
)

// MessageTypeGet flags a record as an assistance-data request.
const MessageTypeGet = "get"

// MessageTypeTwinUpdate flags a record as a device twin reported-state change.
const MessageTypeTwinUpdate = "twinUpdate"

// Record is one inbound device message plus its properties.
type Record struct {
	DeviceID   string
	Payload    []byte
	Properties map[string]string
}

// Prop returns a property value, empty when absent.
func (r Record) Prop(key string) string {
	if r.Properties == nil {
		return ""
	}
	return r.Properties[key]
}

// Sender pushes one message to one device. Delivery is fire-and-forget; no
// acknowledgement surfaces back to the pipeline.
type Sender interface {
	Send(ctx context.Context, deviceID string, payload []byte, properties map[string]string) error
}
