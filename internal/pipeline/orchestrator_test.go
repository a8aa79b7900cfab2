package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/sampler"
)

type assessFunc func(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error)

func (f assessFunc) Assess(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
	return f(ctx, frame)
}

type verifyFunc func(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error)

func (f verifyFunc) Verify(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
	return f(ctx, frame, candidate)
}

// scriptedSource replays fixed frames, then ends with final (end-of-stream
// when final is nil).
type scriptedSource struct {
	frames []incident.Frame
	final  error
	idx    int
}

func (s *scriptedSource) Next(ctx context.Context) (incident.Frame, error) {
	if err := ctx.Err(); err != nil {
		return incident.Frame{}, err
	}
	if s.idx < len(s.frames) {
		f := s.frames[s.idx]
		s.idx++
		return f, nil
	}
	if s.final != nil {
		return incident.Frame{}, s.final
	}
	return incident.Frame{}, sampler.ErrEndOfStream
}

func sampledFrames(n int) []incident.Frame {
	frames := make([]incident.Frame, n)
	for i := range frames {
		frames[i] = testFrame(uint64(i))
	}
	return frames
}

func assessCalm(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
	return incident.CandidateAssessment{
		FrameSeq:       frame.Seq,
		Severity:       incident.SeverityNone,
		Classification: "none",
		Rationale:      "traffic moving at speed, no damage visible",
	}, nil
}

func assessCrash(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
	return incident.CandidateAssessment{
		FrameSeq:       frame.Seq,
		Severity:       incident.SeverityHigh,
		Classification: "head-on collision",
		Rationale:      "two vehicles with severe frontal damage",
		Hazards:        []string{"blocked roadway"},
	}, nil
}

func rejectAll(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
	return incident.VerificationVerdict{Accepted: false, Confidence: 0.2, RejectReason: "normal traffic"}, nil
}

func approveAll(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
	return incident.VerificationVerdict{Accepted: true, Confidence: 0.9}, nil
}

// runToEnd drives Run synchronously and drains the closed channel.
func runToEnd(t *testing.T, src FrameSource, assess Assessor, verify Verifier) ([]incident.Event, error, *Orchestrator) {
	t.Helper()
	o := NewOrchestrator(src, assess, verify, NewDispatcher("crash.mp4", zerolog.Nop()), nil, zerolog.Nop())
	events := make(chan incident.Event, 64)
	err := o.Run(context.Background(), events)
	var got []incident.Event
	for ev := range events {
		got = append(got, ev)
	}
	return got, err, o
}

func countKind(events []incident.Event, kind incident.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunRejectionYieldsOneLogPerTick(t *testing.T) {
	src := &scriptedSource{frames: sampledFrames(3)}
	events, err, o := runToEnd(t, src, assessFunc(assessCalm), verifyFunc(rejectAll))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := countKind(events, incident.EventReport); got != 0 {
		t.Fatalf("rejected ticks must not produce reports, got %d", got)
	}
	if len(events) != 4 {
		t.Fatalf("expected 3 rejection logs plus completion, got %d events: %+v", len(events), events)
	}
	for _, ev := range events[:3] {
		if !strings.Contains(ev.Message, "rejected") {
			t.Errorf("expected rejection log, got %q", ev.Message)
		}
	}
	if events[3].Message != "video analysis complete" {
		t.Errorf("expected completion log last, got %q", events[3].Message)
	}
	if o.State() != StateFinished {
		t.Errorf("expected finished state, got %v", o.State())
	}
}

func TestRunAcceptanceDispatchesReport(t *testing.T) {
	src := &scriptedSource{frames: sampledFrames(1)}
	events, err, _ := runToEnd(t, src, assessFunc(assessCrash), verifyFunc(approveAll))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected report plus completion, got %d events", len(events))
	}
	if events[0].Kind != incident.EventReport || events[0].Report == nil {
		t.Fatalf("first event should be the report, got %+v", events[0])
	}
	report := events[0].Report
	if report.EmergencyType != incident.EmergencyCollision {
		t.Errorf("expected COLLISION, got %q", report.EmergencyType)
	}
	if report.ConfidenceScore != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", report.ConfidenceScore)
	}
	if report.Reason == "" || len(report.Units) == 0 || report.Location == nil {
		t.Errorf("report is not schema-complete: %+v", report)
	}
}

func TestRunModelErrorSkipsTickOnly(t *testing.T) {
	src := &scriptedSource{frames: sampledFrames(3)}
	assess := assessFunc(func(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
		if frame.Seq == 1 {
			return incident.CandidateAssessment{}, fmt.Errorf("%w: completion timed out", ErrModel)
		}
		return assessCalm(ctx, frame)
	})
	events, err, o := runToEnd(t, src, assess, verifyFunc(rejectAll))
	if err != nil {
		t.Fatalf("a transient model failure must not end the session: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected reject, skip, reject, completion, got %d events: %+v", len(events), events)
	}
	if !strings.Contains(events[1].Message, "skipped") {
		t.Errorf("expected skip log for the failed tick, got %q", events[1].Message)
	}
	if !strings.Contains(events[2].Message, "00:04") {
		t.Errorf("tick after the skip should cover the next frame, got %q", events[2].Message)
	}
	if src.idx != 3 {
		t.Errorf("expected all 3 frames consumed, got %d", src.idx)
	}
	if o.State() != StateFinished {
		t.Errorf("expected finished state, got %v", o.State())
	}
}

func TestRunVerifierFailureNeverDispatches(t *testing.T) {
	src := &scriptedSource{frames: sampledFrames(2)}
	verify := verifyFunc(func(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
		return incident.VerificationVerdict{}, fmt.Errorf("%w: upstream 503", ErrModel)
	})
	events, err, _ := runToEnd(t, src, assessFunc(assessCrash), verify)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := countKind(events, incident.EventReport); got != 0 {
		t.Fatalf("verifier failure must never reach dispatch, got %d reports", got)
	}
	if got := countKind(events, incident.EventLog); got != 3 {
		t.Fatalf("expected 2 skip logs plus completion, got %d", got)
	}
}

func TestRunSourceFailureEndsSession(t *testing.T) {
	src := &scriptedSource{
		frames: sampledFrames(1),
		final:  fmt.Errorf("%w: decoder reported corrupt container", sampler.ErrSourceUnavailable),
	}
	events, err, o := runToEnd(t, src, assessFunc(assessCalm), verifyFunc(rejectAll))
	if !errors.Is(err, sampler.ErrSourceUnavailable) {
		t.Fatalf("expected source failure from Run, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected rejection log plus error event, got %d events: %+v", len(events), events)
	}
	last := events[len(events)-1]
	if last.Kind != incident.EventError {
		t.Fatalf("session must end with an error event, got %+v", last)
	}
	if !strings.Contains(last.Message, "video source failed") {
		t.Errorf("unexpected error message %q", last.Message)
	}
	if o.State() != StateFailed {
		t.Errorf("expected failed state, got %v", o.State())
	}
}

func TestRunEventsArriveInGenerationOrder(t *testing.T) {
	src := &scriptedSource{frames: sampledFrames(3)}
	verify := verifyFunc(func(ctx context.Context, frame incident.Frame, candidate incident.CandidateAssessment) (incident.VerificationVerdict, error) {
		if frame.Seq == 1 {
			return incident.VerificationVerdict{Accepted: true, Confidence: 0.8}, nil
		}
		return incident.VerificationVerdict{Accepted: false, Confidence: 0.1, RejectReason: "no incident"}, nil
	})
	events, err, _ := runToEnd(t, src, assessFunc(assessCrash), verify)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	wantKinds := []incident.EventKind{incident.EventLog, incident.EventReport, incident.EventLog, incident.EventLog}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantKinds), len(events), events)
	}
	for i, want := range wantKinds {
		if events[i].Kind != want {
			t.Errorf("event %d: expected kind %d, got %d", i, want, events[i].Kind)
		}
	}
	if !strings.Contains(events[0].Message, "00:00") || !strings.Contains(events[2].Message, "00:04") {
		t.Errorf("rejection logs out of order: %q, %q", events[0].Message, events[2].Message)
	}
}

type blockingSource struct{}

func (blockingSource) Next(ctx context.Context) (incident.Frame, error) {
	<-ctx.Done()
	return incident.Frame{}, ctx.Err()
}

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(blockingSource{}, assessFunc(assessCalm), verifyFunc(rejectAll),
		NewDispatcher("crash.mp4", zerolog.Nop()), nil, zerolog.Nop())
	events := make(chan incident.Event, 8)

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, events) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	for ev := range events {
		t.Errorf("no events may follow cancellation, got %+v", ev)
	}
	if o.State() != StateFailed {
		t.Errorf("expected failed state, got %v", o.State())
	}
}

func TestRunDiscardsInFlightModelCallOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &scriptedSource{frames: sampledFrames(1)}
	assess := assessFunc(func(ctx context.Context, frame incident.Frame) (incident.CandidateAssessment, error) {
		cancel()
		<-ctx.Done()
		return incident.CandidateAssessment{}, fmt.Errorf("%w: %v", ErrModel, ctx.Err())
	})
	o := NewOrchestrator(src, assess, verifyFunc(approveAll),
		NewDispatcher("crash.mp4", zerolog.Nop()), nil, zerolog.Nop())
	events := make(chan incident.Event, 8)

	err := o.Run(ctx, events)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for ev := range events {
		t.Errorf("cancelled tick must not surface events, got %+v", ev)
	}
}

func TestOrchestratorStartsIdle(t *testing.T) {
	o := NewOrchestrator(&scriptedSource{}, assessFunc(assessCalm), verifyFunc(rejectAll),
		NewDispatcher("crash.mp4", zerolog.Nop()), nil, zerolog.Nop())
	if o.State() != StateIdle {
		t.Fatalf("expected idle before Run, got %v", o.State())
	}
}

func TestStateStrings(t *testing.T) {
	states := map[State]string{
		StateIdle:        "idle",
		StateSampling:    "sampling",
		StateAnalyzing:   "analyzing",
		StateVerifying:   "verifying",
		StateDispatching: "dispatching",
		StateFinished:    "finished",
		StateFailed:      "failed",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, expected %q", s, s.String(), want)
		}
	}
}
