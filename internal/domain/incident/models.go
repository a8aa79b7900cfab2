package incident

import (
	"encoding/json"
	"strings"
	"time"
)

// EmergencyType is the closed vocabulary of dispatch-ready report types.
type EmergencyType string

const (
	EmergencyCollision  EmergencyType = "COLLISION"
	EmergencyRollover   EmergencyType = "ROLLOVER"
	EmergencyPedestrian EmergencyType = "PEDESTRIAN"
	EmergencyFire       EmergencyType = "FIRE"
	EmergencyOther      EmergencyType = "OTHER"
)

// Severity is the analyzer's coarse grading of a scene.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity normalizes a model-provided severity label. Unknown labels
// degrade to SeverityNone so a sloppy completion can never escalate on its own.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	case "high", "severe", "critical":
		return SeverityHigh
	default:
		return SeverityNone
	}
}

// Frame is one sampled image. Frames are immutable once created: Data must not
// be modified after the sampler hands the frame out, and a frame is owned by
// the tick that produced it, never retained across ticks.
type Frame struct {
	Seq       uint64
	Data      []byte
	Timestamp time.Time
	Offset    time.Duration
}

// CandidateAssessment is the Reporter's read of a single frame. The rationale
// is always populated, severity none included, so the Critic has material to
// check the claim against.
type CandidateAssessment struct {
	FrameSeq       uint64
	Severity       Severity
	Classification string
	Rationale      string
	Hazards        []string
}

// VerificationVerdict is the Critic's independent judgment of a candidate.
// RejectReason is present iff the candidate was not accepted.
type VerificationVerdict struct {
	Accepted     bool
	Confidence   float64
	RejectReason string
}

// UnitDispatch is one line of the unit recommendation table.
type UnitDispatch struct {
	Type  string `json:"Type"`
	Count int    `json:"Count"`
}

// Report is the terminal structured artifact. One exists only paired with an
// accepted VerificationVerdict. Exported field names are the channel wire
// contract and must not change; FrameSeq and Offset travel with the report
// for archiving but stay off the wire.
type Report struct {
	EmergencyType   EmergencyType  `json:"EmergencyType"`
	ActionRequired  bool           `json:"ActionRequired"`
	ConfidenceScore float64        `json:"ConfidenceScore"`
	Reason          string         `json:"Reason"`
	Location        *string        `json:"Location"`
	Units           []UnitDispatch `json:"Units"`

	FrameSeq uint64        `json:"-"`
	Offset   time.Duration `json:"-"`
}

// EventKind tags the pipeline event union.
type EventKind int8

const (
	EventLog EventKind = iota
	EventReport
	EventError
)

// Event is the sole unit crossing a streaming channel. Within one session
// events are causally ordered and must reach the client in generation order.
type Event struct {
	Kind    EventKind
	Message string
	Report  *Report
}

func LogEvent(msg string) Event {
	return Event{Kind: EventLog, Message: msg}
}

func ErrorEvent(msg string) Event {
	return Event{Kind: EventError, Message: msg}
}

func ReportEvent(r *Report) Event {
	return Event{Kind: EventReport, Report: r}
}

// envelope is the wire shape shared by every event kind: the dashboard client
// receives {"log": string} and distinguishes reports by attempting to parse
// the payload as a JSON object.
type envelope struct {
	Log string `json:"log"`
}

// Envelope serializes the event for the streaming channel. Report events embed
// the report object JSON-encoded inside the log field.
func (e Event) Envelope() ([]byte, error) {
	if e.Kind == EventReport {
		body, err := json.Marshal(e.Report)
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Log: string(body)})
	}
	return json.Marshal(envelope{Log: e.Message})
}
