// Package assist defines the assistance-data request model and the
// per-protocol capability set the pipeline is parameterized by.
package assist

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DataType names one kind of assistance data a device can ask for.
type DataType string

const (
	TypeUTC         DataType = "utc"
	TypeEphemerides DataType = "ephemerides"
	TypeAlmanac     DataType = "almanac"
	TypeKlobuchar   DataType = "klobuchar"
	TypeNeQuick     DataType = "nequick"
	TypeTime        DataType = "time"
	TypeIntegrity   DataType = "integrity"
	TypeLocation    DataType = "location"
)

var knownTypes = map[DataType]struct{}{
	TypeUTC:         {},
	TypeEphemerides: {},
	TypeAlmanac:     {},
	TypeKlobuchar:   {},
	TypeNeQuick:     {},
	TypeTime:        {},
	TypeIntegrity:   {},
	TypeLocation:    {},
}

// Defaults applied when a P-GPS request omits the optional prediction fields.
const (
	DefaultPredictionCount    = 42
	DefaultPredictionInterval = 240 // minutes
)

// ErrValidation marks a malformed inbound request. Such requests are dropped
// with a local log and never surface back to the device.
var ErrValidation = errors.New("invalid assistance request")

// RawRequest is the device's JSON payload before validation. Optional fields
// are pointers so omission can be told apart from an explicit zero.
type RawRequest struct {
	MCC   *int     `json:"mcc"`
	MNC   *int     `json:"mnc"`
	Cell  *int64   `json:"cell"`
	Area  *int     `json:"area"`
	Types []string `json:"types,omitempty"`

	PredictionCount    *int `json:"predictionCount,omitempty"`
	PredictionInterval *int `json:"predictionIntervalMinutes,omitempty"`
	StartGPSDay        *int `json:"startGpsDay,omitempty"`
	StartGPSTimeOfDay  *int `json:"startGpsTimeOfDaySeconds,omitempty"`
}

// Request is a validated, canonicalized assistance request. Immutable once
// built; safe to marshal into cache documents and queue messages.
type Request struct {
	Protocol ProtocolName `json:"protocol"`
	DeviceID string       `json:"deviceId"`

	MCC  int   `json:"mcc"`
	MNC  int   `json:"mnc"`
	Cell int64 `json:"cell"`
	Area int   `json:"area"`

	Types []DataType `json:"types,omitempty"`

	PredictionCount    int `json:"predictionCount,omitempty"`
	PredictionInterval int `json:"predictionIntervalMinutes,omitempty"`
	StartGPSDay        int `json:"startGpsDay,omitempty"`
	StartGPSTimeOfDay  int `json:"startGpsTimeOfDaySeconds,omitempty"`

	// NetworkMode is enrichment context (e.g. "LTE-M", "NB-IoT"), not part of
	// the cache key. Empty when enrichment found nothing.
	NetworkMode string `json:"networkMode,omitempty"`
}

// HasType reports whether t is among the requested data types.
func (r Request) HasType(t DataType) bool {
	for _, x := range r.Types {
		if x == t {
			return true
		}
	}
	return false
}

// CanonicalFields renders the semantic fields (never the device id or
// enrichment context) as a stable string for cache key derivation.
func (r Request) CanonicalFields() string {
	ts := make([]string, len(r.Types))
	for i, t := range r.Types {
		ts[i] = string(t)
	}
	sort.Strings(ts)

	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d-%d-%d-%d:types=%s", r.Protocol, r.MCC, r.MNC, r.Cell, r.Area, strings.Join(ts, ","))
	if r.Protocol == ProtocolPGPS {
		fmt.Fprintf(&b, ":n=%d:int=%d:day=%d:tod=%d",
			r.PredictionCount, r.PredictionInterval, r.StartGPSDay, r.StartGPSTimeOfDay)
	}
	return b.String()
}

func validateCell(raw RawRequest) error {
	switch {
	case raw.MCC == nil || raw.MNC == nil || raw.Cell == nil || raw.Area == nil:
		return fmt.Errorf("%w: mcc, mnc, cell and area are required", ErrValidation)
	case *raw.MCC < 100 || *raw.MCC > 999:
		return fmt.Errorf("%w: mcc %d out of range", ErrValidation, *raw.MCC)
	case *raw.MNC < 0 || *raw.MNC > 999:
		return fmt.Errorf("%w: mnc %d out of range", ErrValidation, *raw.MNC)
	case *raw.Cell < 0:
		return fmt.Errorf("%w: negative cell id", ErrValidation)
	case *raw.Area <= 0:
		return fmt.Errorf("%w: area %d out of range", ErrValidation, *raw.Area)
	}
	return nil
}

func parseTypes(raw []string) ([]DataType, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: types must not be empty", ErrValidation)
	}
	seen := map[DataType]struct{}{}
	out := make([]DataType, 0, len(raw))
	for _, s := range raw {
		t := DataType(strings.ToLower(strings.TrimSpace(s)))
		if _, ok := knownTypes[t]; !ok {
			return nil, fmt.Errorf("%w: unknown data type %q", ErrValidation, s)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
