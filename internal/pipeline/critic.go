package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/vlm"
)

// DefaultThreshold is the confidence floor below which an accepted verdict is
// still treated as rejected, guarding against the model's own overconfidence.
const DefaultThreshold = 0.6

const criticPromptFormat = `You are a safety supervisor independently reviewing a possible severe traffic accident.
A first-pass report on this frame claims severity %q and incident type %q, reasoning: %q. Claimed hazards: %s.
Judge the attached frame on its own evidence, not on the report. Reject when traffic is flowing normally, when the view is ambiguous or occluded, or when evidence of injury or hazard is insufficient. Accept only when the frame itself is consistent with a genuine severe incident.
Answer with strict JSON only, no prose:
{"approved":true|false,"confidence":<number between 0.0 and 1.0>,"reason":"<one sentence>"}`

// Critic is the false-positive defense: it never trusts the Reporter's label
// and re-derives its own judgment from the same frame.
type Critic struct {
	model     Vision
	threshold float64
	log       zerolog.Logger
}

func NewCritic(model Vision, threshold float64, log zerolog.Logger) *Critic {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Critic{model: model, threshold: threshold, log: log}
}

type criticReply struct {
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Verify returns the Critic's verdict on a candidate. Model failures map to
// ErrModel and must be treated by callers as rejection (fail closed), never
// as acceptance.
func (c *Critic) Verify(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
	hazards := "none listed"
	if len(candidate.Hazards) > 0 {
		hazards = strings.Join(candidate.Hazards, ", ")
	}
	prompt := fmt.Sprintf(criticPromptFormat,
		candidate.Severity, candidate.Classification, candidate.Rationale, hazards)

	out, err := c.model.Complete(ctx, prompt, frame.Data)
	if err != nil {
		return incident.VerificationVerdict{}, fmt.Errorf("%w: %v", ErrModel, err)
	}

	raw, ok := vlm.FirstJSONObject(out)
	if !ok {
		return incident.VerificationVerdict{}, fmt.Errorf("%w: no JSON object in completion", ErrModel)
	}

	var reply criticReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return incident.VerificationVerdict{}, fmt.Errorf("%w: decode verdict: %v", ErrModel, err)
	}

	verdict := incident.VerificationVerdict{
		Accepted:   reply.Approved,
		Confidence: clamp01(reply.Confidence),
	}

	switch {
	case verdict.Accepted && verdict.Confidence < c.threshold:
		// The model's own boolean is not trusted below the floor.
		verdict.Accepted = false
		verdict.RejectReason = fmt.Sprintf("confidence %.2f below threshold %.2f", verdict.Confidence, c.threshold)
	case !verdict.Accepted:
		verdict.RejectReason = strings.TrimSpace(reply.Reason)
		if verdict.RejectReason == "" {
			verdict.RejectReason = "insufficient evidence of a severe incident"
		}
	}

	c.log.Debug().
		Uint64("frame_seq", frame.Seq).
		Bool("accepted", verdict.Accepted).
		Float64("confidence", verdict.Confidence).
		Msg("candidate verified")

	return verdict, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
