// Package pipeline implements the staged incident workflow: a Reporter
// assesses each sampled frame, a Critic independently verifies the claim, and
// a Dispatcher formats accepted incidents into dispatch-ready reports. The
// Orchestrator sequences the stages per tick and owns the session state
// machine.
package pipeline

import (
	"context"
	"errors"

	"sentinel-service/internal/domain/incident"
)

var (
	// ErrModel marks a transient model failure (timeout, transport error,
	// malformed completion). The orchestrator skips the tick and keeps the
	// session alive.
	ErrModel = errors.New("model failure")

	// ErrFormat marks a candidate classification outside the known
	// vocabulary. The report is still produced, degraded to OTHER.
	ErrFormat = errors.New("unknown classification")
)

// Vision is the slice of the model client the stages consume. vlm.Client
// implements it; tests substitute a stub.
type Vision interface {
	Complete(ctx context.Context, prompt string, frameJPEG []byte) (string, error)
}

// Assessor produces a candidate assessment from one frame (the "Reporter").
type Assessor interface {
	Assess(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error)
}

// Verifier re-derives an independent judgment from the same evidence (the
// "Critic"). Implementations must fail closed: an error is never acceptance.
type Verifier interface {
	Verify(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error)
}

// FrameSource is the sampler surface the orchestrator drives.
type FrameSource interface {
	Next(ctx context.Context) (incident.Frame, error)
}
