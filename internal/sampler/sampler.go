// Package sampler pulls frames from a video source at a fixed interval and
// stamps them with gapless, monotonically increasing sequence numbers.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sentinel-service/internal/domain/incident"
)

var (
	// ErrEndOfStream signals the source is exhausted. Terminal for the
	// session but not a failure.
	ErrEndOfStream = errors.New("end of stream")

	// ErrSourceUnavailable signals the source cannot be read at all.
	// Fatal and non-retryable for the session.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// Source supplies raw encoded frames (JPEG). Implementations return io.EOF
// when exhausted and any other error when the underlying stream is broken.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Sampler paces a Source to the configured interval. Not safe for concurrent
// use; a session owns exactly one sampler and calls Next from its tick loop.
type Sampler struct {
	src      Source
	interval time.Duration

	seq  uint64
	last time.Time
}

func New(src Source, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Sampler{src: src, interval: interval}
}

// Interval returns the configured sampling interval.
func (s *Sampler) Interval() time.Duration {
	return s.interval
}

// Next blocks until the interval has elapsed since the previous sample, then
// reads one frame. The first call samples immediately. Returned errors are
// ErrEndOfStream, ErrSourceUnavailable, or the context's error; sequence
// numbers only advance on success, so they stay gapless across failed ticks
// further down the pipeline.
func (s *Sampler) Next(ctx context.Context) (incident.Frame, error) {
	if !s.last.IsZero() {
		wait := s.interval - time.Since(s.last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return incident.Frame{}, ctx.Err()
			case <-timer.C:
			}
		}
	}

	data, err := s.src.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return incident.Frame{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, ErrEndOfStream) {
			return incident.Frame{}, ErrEndOfStream
		}
		if errors.Is(err, ErrSourceUnavailable) {
			return incident.Frame{}, err
		}
		return incident.Frame{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s.last = time.Now()
	frame := incident.Frame{
		Seq:       s.seq,
		Data:      data,
		Timestamp: s.last,
		// Nominal source position given the sampling cadence.
		Offset: time.Duration(s.seq) * s.interval,
	}
	s.seq++
	return frame, nil
}

// Close releases the underlying source.
func (s *Sampler) Close() error {
	return s.src.Close()
}
