package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/metrics"
	"sentinel-service/internal/sampler"
)

// State is the orchestrator's position in the analysis cycle.
type State int

const (
	StateIdle State = iota
	StateSampling
	StateAnalyzing
	StateVerifying
	StateDispatching
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSampling:
		return "sampling"
	case StateAnalyzing:
		return "analyzing"
	case StateVerifying:
		return "verifying"
	case StateDispatching:
		return "dispatching"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	stageReporter = "reporter"
	stageCritic   = "critic"
)

// Orchestrator drives one video through the sample/assess/verify/dispatch
// cycle and publishes the outcome of every tick on a single event channel.
// One orchestrator serves one session; ticks never overlap.
type Orchestrator struct {
	source     FrameSource
	assessor   Assessor
	verifier   Verifier
	dispatcher *Dispatcher
	met        *metrics.Pipeline
	log        zerolog.Logger

	mu    sync.Mutex
	state State
}

func NewOrchestrator(source FrameSource, assessor Assessor, verifier Verifier, dispatcher *Dispatcher, met *metrics.Pipeline, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		source:     source,
		assessor:   assessor,
		verifier:   verifier,
		dispatcher: dispatcher,
		met:        met,
		log:        log,
		state:      StateIdle,
	}
}

// State reports the current position in the cycle. Safe to call from other
// goroutines while Run is in flight.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run loops until the video ends, the source fails, or ctx is cancelled. It
// closes events before returning; nothing else may send on the channel.
// Every externally visible outcome of a tick is exactly one event: a log
// event for a skipped or rejected tick, a report event for a dispatch.
func (o *Orchestrator) Run(ctx context.Context, events chan<- incident.Event) error {
	defer close(events)

	for {
		o.setState(StateSampling)
		frame, err := o.source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, sampler.ErrEndOfStream):
				o.setState(StateFinished)
				emit(ctx, events, incident.LogEvent("video analysis complete"))
				o.log.Info().Msg("stream drained, session finished")
				return nil
			case ctx.Err() != nil:
				o.setState(StateFailed)
				return ctx.Err()
			default:
				o.setState(StateFailed)
				emit(ctx, events, incident.ErrorEvent(fmt.Sprintf("video source failed: %v", err)))
				o.log.Error().Err(err).Msg("source failure, session aborted")
				return err
			}
		}
		o.met.TickSampled()

		o.setState(StateAnalyzing)
		candidate, err := o.assessor.Assess(ctx, frame)
		if err != nil {
			if stop, runErr := o.skip(ctx, events, frame, stageReporter, err); stop {
				return runErr
			}
			continue
		}

		o.setState(StateVerifying)
		verdict, err := o.verifier.Verify(ctx, frame, candidate)
		if err != nil {
			// A Critic failure can never count as approval.
			if stop, runErr := o.skip(ctx, events, frame, stageCritic, err); stop {
				return runErr
			}
			continue
		}
		if !verdict.Accepted {
			o.met.CandidateRejected()
			emit(ctx, events, incident.LogEvent(fmt.Sprintf("candidate at %s rejected: %s",
				formatOffset(frame.Offset), verdict.RejectReason)))
			o.log.Debug().Uint64("frame_seq", frame.Seq).Str("reason", verdict.RejectReason).Msg("candidate rejected")
			continue
		}

		o.setState(StateDispatching)
		// ErrFormat means the report was downgraded to OTHER. It is still
		// dispatched, and the dispatcher has logged the raw label.
		report, _ := o.dispatcher.Format(frame, candidate, verdict)
		o.met.ReportDispatched()
		emit(ctx, events, incident.ReportEvent(&report))
		o.log.Info().
			Uint64("frame_seq", frame.Seq).
			Str("emergency_type", string(report.EmergencyType)).
			Float64("confidence", report.ConfidenceScore).
			Msg("incident report dispatched")
	}
}

// skip handles a failed model call. Cancellation ends the run; anything else
// is transient, costs this tick only, and surfaces as a single log event.
func (o *Orchestrator) skip(ctx context.Context, events chan<- incident.Event, frame incident.Frame, stage string, err error) (bool, error) {
	if ctx.Err() != nil {
		o.setState(StateFailed)
		return true, ctx.Err()
	}
	o.met.ModelErrorSkipped(stage)
	what := "verification failed"
	if stage == stageReporter {
		what = "scene analysis failed"
	}
	emit(ctx, events, incident.LogEvent(fmt.Sprintf("frame at %s skipped: %s", formatOffset(frame.Offset), what)))
	o.log.Warn().Err(err).Uint64("frame_seq", frame.Seq).Str("stage", stage).Msg("tick skipped on model failure")
	return false, nil
}

// emit delivers an event unless the session is already cancelled, in which
// case the event is dropped: a disconnected client receives nothing.
func emit(ctx context.Context, events chan<- incident.Event, ev incident.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
