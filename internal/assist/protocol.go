package assist

import "fmt"

// ProtocolName identifies one of the supported assistance protocols.
type ProtocolName string

const (
	ProtocolAGNSS ProtocolName = "agnss"
	ProtocolAGPS  ProtocolName = "agps"
	ProtocolPGPS  ProtocolName = "pgps"
)

// SubRequest is one resolver-API-shaped call. A validated request expands into
// an ordered list of these because the upstream API rejects mixed-type
// requests that include ephemerides.
type SubRequest struct {
	// Path is the resolver endpoint suffix for this protocol.
	Path string
	// Types carried by this call; empty for P-GPS, whose shape is fixed.
	Types []DataType
	// Request the sub-request was derived from.
	Request Request
}

// Protocol is the capability set one assistance protocol plugs into the
// generic pipeline: validation/canonicalization, sub-request splitting, and
// key-relevant defaults.
type Protocol interface {
	Name() ProtocolName

	// ResultMarker tags outbound device messages so the device can tell
	// assistance responses from other channel traffic.
	ResultMarker() string

	// Normalize validates a raw device payload into an immutable Request.
	// Returns an error wrapping ErrValidation on schema violations.
	Normalize(deviceID string, raw RawRequest) (Request, error)

	// Split expands one validated request into ordered resolver calls.
	// Ephemerides first when present, then the remaining types as one call.
	Split(req Request) []SubRequest
}

var protocols = map[ProtocolName]Protocol{
	ProtocolAGNSS: agnssProtocol{},
	ProtocolAGPS:  agpsProtocol{},
	ProtocolPGPS:  pgpsProtocol{},
}

// Lookup returns the protocol implementation for name.
func Lookup(name string) (Protocol, error) {
	p, ok := protocols[ProtocolName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrValidation, name)
	}
	return p, nil
}
