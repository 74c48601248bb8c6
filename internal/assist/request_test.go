package assist

import (
	"errors"
	"testing"
)

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }

func validRaw() RawRequest {
	return RawRequest{
		MCC: intp(260), MNC: intp(1), Cell: int64p(100), Area: intp(200),
		Types: []string{"ephemerides", "almanac", "utc"},
	}
}

func TestNormalizeValid(t *testing.T) {
	p, err := Lookup("agps")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	req, err := p.Normalize("dev-1", validRaw())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if req.Protocol != ProtocolAGPS || req.DeviceID != "dev-1" {
		t.Fatalf("unexpected identity fields: %+v", req)
	}
	if req.MCC != 260 || req.MNC != 1 || req.Cell != 100 || req.Area != 200 {
		t.Fatalf("unexpected cell fields: %+v", req)
	}
	if len(req.Types) != 3 {
		t.Fatalf("types=%v", req.Types)
	}
}

func TestNormalizeRejections(t *testing.T) {
	p, _ := Lookup("agnss")

	cases := map[string]RawRequest{
		"missing mcc": func() RawRequest { r := validRaw(); r.MCC = nil; return r }(),
		"mcc too low": func() RawRequest { r := validRaw(); r.MCC = intp(99); return r }(),
		"mnc too big": func() RawRequest { r := validRaw(); r.MNC = intp(1000); return r }(),
		"negative cell": func() RawRequest { r := validRaw(); r.Cell = int64p(-1); return r }(),
		"zero area":   func() RawRequest { r := validRaw(); r.Area = intp(0); return r }(),
		"empty types": func() RawRequest { r := validRaw(); r.Types = nil; return r }(),
		"unknown type": func() RawRequest { r := validRaw(); r.Types = []string{"gibberish"}; return r }(),
	}
	for name, raw := range cases {
		if _, err := p.Normalize("dev-1", raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", name, err)
		}
	}
}

func TestPGPSRejectsBadPredictionWindow(t *testing.T) {
	p, _ := Lookup("pgps")
	raw := validRaw()
	raw.Types = nil
	raw.PredictionInterval = intp(90)
	if _, err := p.Normalize("dev-1", raw); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for interval 90, got %v", err)
	}
	raw.PredictionInterval = nil
	raw.PredictionCount = intp(0)
	if _, err := p.Normalize("dev-1", raw); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for count 0, got %v", err)
	}
}

func TestSplitEphemeridesFirst(t *testing.T) {
	p, _ := Lookup("agnss")
	req, err := p.Normalize("dev-1", validRaw())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	subs := p.Split(req)
	if len(subs) != 2 {
		t.Fatalf("want 2 sub-requests, got %d", len(subs))
	}
	if len(subs[0].Types) != 1 || subs[0].Types[0] != TypeEphemerides {
		t.Fatalf("first sub-request must carry only ephemerides: %v", subs[0].Types)
	}
	if len(subs[1].Types) != 2 {
		t.Fatalf("second sub-request must carry the remaining types: %v", subs[1].Types)
	}
	for _, typ := range subs[1].Types {
		if typ == TypeEphemerides {
			t.Fatalf("ephemerides leaked into the second sub-request")
		}
	}
}

func TestSplitWithoutEphemeridesIsOneCall(t *testing.T) {
	p, _ := Lookup("agps")
	raw := validRaw()
	raw.Types = []string{"almanac", "utc"}
	req, err := p.Normalize("dev-1", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if subs := p.Split(req); len(subs) != 1 {
		t.Fatalf("want 1 sub-request, got %d", len(subs))
	}
}

func TestPGPSSplitIsSingleCall(t *testing.T) {
	p, _ := Lookup("pgps")
	raw := validRaw()
	raw.Types = nil
	req, err := p.Normalize("dev-1", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	subs := p.Split(req)
	if len(subs) != 1 || len(subs[0].Types) != 0 {
		t.Fatalf("pgps must split into exactly one typeless call: %+v", subs)
	}
}

func TestLookupUnknownProtocol(t *testing.T) {
	if _, err := Lookup("bogus"); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for unknown protocol, got %v", err)
	}
}

func TestDuplicateTypesCollapse(t *testing.T) {
	p, _ := Lookup("agnss")
	raw := validRaw()
	raw.Types = []string{"almanac", "Almanac", " almanac "}
	req, err := p.Normalize("dev-1", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(req.Types) != 1 || req.Types[0] != TypeAlmanac {
		t.Fatalf("duplicates must collapse: %v", req.Types)
	}
}
