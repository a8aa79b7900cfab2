package incident

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"low":      SeverityLow,
		"Medium":   SeverityMedium,
		"moderate": SeverityMedium,
		"HIGH":     SeverityHigh,
		"severe":   SeverityHigh,
		"critical": SeverityHigh,
		"none":     SeverityNone,
		"":         SeverityNone,
		"banana":   SeverityNone,
		" high ":   SeverityHigh,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %q, expected %q", in, got, want)
		}
	}
}

func TestLogEventEnvelope(t *testing.T) {
	payload, err := LogEvent("starting analysis of crash.mp4").Envelope()
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if decoded["log"] != "starting analysis of crash.mp4" {
		t.Errorf("unexpected log field %q", decoded["log"])
	}
	if len(decoded) != 1 {
		t.Errorf("envelope must carry exactly the log field, got %v", decoded)
	}
}

func TestReportEventEnvelopeEmbedsReport(t *testing.T) {
	location := "crash.mp4 @ 01:24"
	report := &Report{
		EmergencyType:   EmergencyCollision,
		ActionRequired:  true,
		ConfidenceScore: 0.88,
		Reason:          "two vehicles with severe frontal damage",
		Location:        &location,
		Units: []UnitDispatch{
			{Type: "ambulance", Count: 1},
			{Type: "police", Count: 1},
		},
		FrameSeq: 42,
		Offset:   84 * time.Second,
	}

	payload, err := ReportEvent(report).Envelope()
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}

	var outer struct {
		Log string `json:"log"`
	}
	if err := json.Unmarshal(payload, &outer); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}

	// The client parses the log payload back into the report object.
	var inner map[string]json.RawMessage
	if err := json.Unmarshal([]byte(outer.Log), &inner); err != nil {
		t.Fatalf("report payload is not embedded JSON: %v", err)
	}
	for _, field := range []string{"EmergencyType", "ActionRequired", "ConfidenceScore", "Reason", "Location", "Units"} {
		if _, ok := inner[field]; !ok {
			t.Errorf("report wire field %s missing", field)
		}
	}
	for _, hidden := range []string{"FrameSeq", "Offset"} {
		if _, ok := inner[hidden]; ok {
			t.Errorf("internal field %s leaked onto the wire", hidden)
		}
	}

	var roundTrip Report
	if err := json.Unmarshal([]byte(outer.Log), &roundTrip); err != nil {
		t.Fatalf("embedded report does not round-trip: %v", err)
	}
	if roundTrip.EmergencyType != EmergencyCollision || roundTrip.Units[0].Type != "ambulance" {
		t.Errorf("embedded report corrupted: %+v", roundTrip)
	}
}

func TestErrorEventEnvelope(t *testing.T) {
	payload, err := ErrorEvent("video source failed: corrupt container").Envelope()
	if err != nil {
		t.Fatalf("Envelope failed: %v", err)
	}
	var outer struct {
		Log string `json:"log"`
	}
	if err := json.Unmarshal(payload, &outer); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if outer.Log != "video source failed: corrupt container" {
		t.Errorf("unexpected log field %q", outer.Log)
	}
}
