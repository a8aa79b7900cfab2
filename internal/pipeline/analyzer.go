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

// reporterPrompt deliberately biases toward overreporting: suppressing false
// positives is the Critic's job, not this stage's.
const reporterPrompt = `You are an emergency dispatch vision analyst reviewing one traffic camera frame.
Assume potential injuries whenever vehicles show damage. Overreporting severity is acceptable here; an independent reviewer rejects false alarms later.
Answer with strict JSON only, no prose:
{"severity":"none|low|medium|high","classification":"<short incident type, e.g. rear-end collision, rollover, pedestrian struck, vehicle fire; use none for normal traffic>","rationale":"<one or two sentences of visual evidence>","hazards":["<observed hazard>", ...]}
The rationale is mandatory even when severity is none.`

// Analyzer is the optimistic first-pass stage.
type Analyzer struct {
	model Vision
	log   zerolog.Logger
}

func NewAnalyzer(model Vision, log zerolog.Logger) *Analyzer {
	return &Analyzer{model: model, log: log}
}

type reporterReply struct {
	Severity       string   `json:"severity"`
	Classification string   `json:"classification"`
	Rationale      string   `json:"rationale"`
	Hazards        []string `json:"hazards"`
}

// Assess asks the model to describe crash dynamics, hazards and severity for
// one frame. Every failure mode of the call or its output maps to ErrModel.
func (a *Analyzer) Assess(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
	out, err := a.model.Complete(ctx, reporterPrompt, frame.Data)
	if err != nil {
		return incident.CandidateAssessment{}, fmt.Errorf("%w: %v", ErrModel, err)
	}

	raw, ok := vlm.FirstJSONObject(out)
	if !ok {
		return incident.CandidateAssessment{}, fmt.Errorf("%w: no JSON object in completion", ErrModel)
	}

	var reply reporterReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return incident.CandidateAssessment{}, fmt.Errorf("%w: decode assessment: %v", ErrModel, err)
	}

	rationale := strings.TrimSpace(reply.Rationale)
	if rationale == "" {
		// The Critic always needs material to check against.
		rationale = "no visual rationale provided by the model"
	}

	assessment := incident.CandidateAssessment{
		FrameSeq:       frame.Seq,
		Severity:       incident.ParseSeverity(reply.Severity),
		Classification: strings.TrimSpace(reply.Classification),
		Rationale:      rationale,
		Hazards:        reply.Hazards,
	}

	a.log.Debug().
		Uint64("frame_seq", frame.Seq).
		Str("severity", string(assessment.Severity)).
		Str("classification", assessment.Classification).
		Msg("frame assessed")

	return assessment, nil
}
