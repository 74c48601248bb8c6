package assist

import "fmt"

type pgpsProtocol struct{}

func (pgpsProtocol) Name() ProtocolName   { return ProtocolPGPS }
func (pgpsProtocol) ResultMarker() string { return "PGPS" }

// P-GPS requests carry no type list; the prediction window fields default so
// that omission and explicit-default collapse to the same cache key.
func (pgpsProtocol) Normalize(deviceID string, raw RawRequest) (Request, error) {
	if err := validateCell(raw); err != nil {
		return Request{}, err
	}

	req := Request{
		Protocol:           ProtocolPGPS,
		DeviceID:           deviceID,
		MCC:                *raw.MCC,
		MNC:                *raw.MNC,
		Cell:               *raw.Cell,
		Area:               *raw.Area,
		PredictionCount:    DefaultPredictionCount,
		PredictionInterval: DefaultPredictionInterval,
	}
	if raw.PredictionCount != nil {
		if *raw.PredictionCount < 1 || *raw.PredictionCount > 168 {
			return Request{}, errRange("predictionCount", *raw.PredictionCount)
		}
		req.PredictionCount = *raw.PredictionCount
	}
	if raw.PredictionInterval != nil {
		switch *raw.PredictionInterval {
		case 120, 240, 360, 480:
			req.PredictionInterval = *raw.PredictionInterval
		default:
			return Request{}, errRange("predictionIntervalMinutes", *raw.PredictionInterval)
		}
	}
	if raw.StartGPSDay != nil {
		if *raw.StartGPSDay < 0 {
			return Request{}, errRange("startGpsDay", *raw.StartGPSDay)
		}
		req.StartGPSDay = *raw.StartGPSDay
	}
	if raw.StartGPSTimeOfDay != nil {
		if *raw.StartGPSTimeOfDay < 0 || *raw.StartGPSTimeOfDay >= 86400 {
			return Request{}, errRange("startGpsTimeOfDaySeconds", *raw.StartGPSTimeOfDay)
		}
		req.StartGPSTimeOfDay = *raw.StartGPSTimeOfDay
	}
	return req, nil
}

// One call: the prediction set is a single binary artifact upstream.
func (pgpsProtocol) Split(req Request) []SubRequest {
	return []SubRequest{{Path: "location/pgps", Request: req}}
}

func errRange(field string, v int) error {
	return fmt.Errorf("%w: %s %d out of range", ErrValidation, field, v)
}
