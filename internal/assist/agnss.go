package assist

// A-GNSS and A-GPS share the same request shape and split rule; they differ in
// the resolver endpoint and the marker the device filters on.

type agnssProtocol struct{}

func (agnssProtocol) Name() ProtocolName   { return ProtocolAGNSS }
func (agnssProtocol) ResultMarker() string { return "AGNSS" }

func (agnssProtocol) Normalize(deviceID string, raw RawRequest) (Request, error) {
	return normalizeCellRequest(ProtocolAGNSS, deviceID, raw)
}

func (agnssProtocol) Split(req Request) []SubRequest {
	return splitEphemerides("location/agnss", req)
}

type agpsProtocol struct{}

func (agpsProtocol) Name() ProtocolName   { return ProtocolAGPS }
func (agpsProtocol) ResultMarker() string { return "AGPS" }

func (agpsProtocol) Normalize(deviceID string, raw RawRequest) (Request, error) {
	return normalizeCellRequest(ProtocolAGPS, deviceID, raw)
}

func (agpsProtocol) Split(req Request) []SubRequest {
	return splitEphemerides("location/agps", req)
}

func normalizeCellRequest(p ProtocolName, deviceID string, raw RawRequest) (Request, error) {
	if err := validateCell(raw); err != nil {
		return Request{}, err
	}
	types, err := parseTypes(raw.Types)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Protocol: p,
		DeviceID: deviceID,
		MCC:      *raw.MCC,
		MNC:      *raw.MNC,
		Cell:     *raw.Cell,
		Area:     *raw.Area,
		Types:    types,
	}, nil
}

// splitEphemerides puts ephemerides in a call of its own, first, then the rest
// as one call. The upstream rejects mixed requests that include ephemerides.
func splitEphemerides(path string, req Request) []SubRequest {
	var eph, rest []DataType
	for _, t := range req.Types {
		if t == TypeEphemerides {
			eph = append(eph, t)
		} else {
			rest = append(rest, t)
		}
	}
	var out []SubRequest
	if len(eph) > 0 {
		out = append(out, SubRequest{Path: path, Types: eph, Request: req})
	}
	if len(rest) > 0 {
		out = append(out, SubRequest{Path: path, Types: rest, Request: req})
	}
	return out
}
