package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sentinel-service/internal/domain/incident"
)

// unitTable fixes the responder mix per emergency type. Formatting the same
// verified candidate twice must yield byte-identical reports, so the table is
// deterministic and never consulted with external state.
var unitTable = map[incident.EmergencyType][]incident.UnitDispatch{
	incident.EmergencyCollision: {
		{Type: "ambulance", Count: 1},
		{Type: "police", Count: 1},
	},
	incident.EmergencyRollover: {
		{Type: "ambulance", Count: 1},
		{Type: "fire_rescue", Count: 1},
		{Type: "police", Count: 1},
	},
	incident.EmergencyPedestrian: {
		{Type: "ambulance", Count: 2},
		{Type: "police", Count: 1},
	},
	incident.EmergencyFire: {
		{Type: "fire_rescue", Count: 2},
		{Type: "police", Count: 1},
	},
	incident.EmergencyOther: {
		{Type: "police", Count: 1},
	},
}

// Dispatcher turns a verified candidate into the dispatch report sent to
// responders. It performs no model calls and no I/O.
type Dispatcher struct {
	location string
	log      zerolog.Logger
}

// NewDispatcher builds a Dispatcher whose reports carry the given location
// label, normally the analyzed video's name.
func NewDispatcher(location string, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{location: location, log: log}
}

// Format builds the dispatch report for an accepted candidate. Calling it
// with a rejected verdict is a programming error and panics. A candidate
// whose classification maps to no known emergency type still produces a
// report, downgraded to OTHER, alongside ErrFormat.
func (d *Dispatcher) Format(frame incident.Frame, candidate incident.CandidateAssessment, verdict incident.VerificationVerdict) (incident.Report, error) {
	if !verdict.Accepted {
		panic("pipeline: Format called with rejected verdict")
	}

	emergency, err := classifyEmergency(candidate.Classification)

	location := d.location
	if location != "" {
		location = fmt.Sprintf("%s @ %s", d.location, formatOffset(frame.Offset))
	}

	report := incident.Report{
		EmergencyType:   emergency,
		ActionRequired:  true,
		ConfidenceScore: verdict.Confidence,
		Reason:          candidate.Rationale,
		Units:           unitsFor(emergency),
		FrameSeq:        frame.Seq,
		Offset:          frame.Offset,
	}
	if location != "" {
		report.Location = &location
	}

	if err != nil {
		d.log.Warn().
			Uint64("frame_seq", frame.Seq).
			Str("classification", candidate.Classification).
			Msg("unmapped classification downgraded to OTHER")
	}
	return report, err
}

// classifyEmergency maps the Reporter's free-text classification onto the
// closed emergency taxonomy. Match order matters: a burning rolled-over car
// with a pedestrian involved dispatches for the pedestrian, the most
// life-critical reading.
func classifyEmergency(classification string) (incident.EmergencyType, error) {
	c := strings.ToLower(classification)
	switch {
	case strings.Contains(c, "pedestrian"):
		return incident.EmergencyPedestrian, nil
	case strings.Contains(c, "fire"), strings.Contains(c, "burn"):
		return incident.EmergencyFire, nil
	case strings.Contains(c, "rollover"), strings.Contains(c, "overturn"), strings.Contains(c, "flip"):
		return incident.EmergencyRollover, nil
	case strings.Contains(c, "collision"), strings.Contains(c, "crash"), strings.Contains(c, "rear-end"), strings.Contains(c, "pile"):
		return incident.EmergencyCollision, nil
	}
	return incident.EmergencyOther, fmt.Errorf("%w: %q", ErrFormat, classification)
}

// unitsFor returns a fresh copy so callers cannot mutate the table.
func unitsFor(emergency incident.EmergencyType) []incident.UnitDispatch {
	units := unitTable[emergency]
	out := make([]incident.UnitDispatch, len(units))
	copy(out, units)
	return out
}

// formatOffset renders a position in the video as MM:SS. Minutes are not
// wrapped at 60 so long recordings stay unambiguous.
func formatOffset(offset time.Duration) string {
	total := int(offset / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
