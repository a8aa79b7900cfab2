package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"sentinel-service/internal/domain/incident"
	"sentinel-service/internal/repository"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// IncidentStore is the persistence surface the service needs. The gorm
// repository satisfies it; tests substitute a fake.
type IncidentStore interface {
	CreateIncident(ctx context.Context, rec *repository.Incident) error
	FindIncidents(ctx context.Context, emergencyType, videoName *string, from, to *time.Time, limit, offset int) ([]repository.Incident, error)
	DeleteOldIncidents(ctx context.Context, days int) (int64, error)
	StartSession(ctx context.Context, rec *repository.Session) error
	FinishSession(ctx context.Context, id, outcome string, finishedAt time.Time) error
}

type IncidentService struct {
	store IncidentStore
	log   zerolog.Logger
}

func NewIncidentService(store IncidentStore, log zerolog.Logger) *IncidentService {
	return &IncidentService{
		store: store,
		log:   log,
	}
}

// ArchiveReport persists one dispatched report. Archiving is best effort from
// the pipeline's point of view; callers log failures and keep streaming.
func (s *IncidentService) ArchiveReport(ctx context.Context, sessionID, videoName string, frameSeq uint64, offset time.Duration, report *incident.Report) (int64, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return 0, fmt.Errorf("%w: session id must be a uuid", ErrInvalidInput)
	}
	if videoName == "" {
		return 0, fmt.Errorf("%w: video name is required", ErrInvalidInput)
	}
	if report == nil {
		return 0, fmt.Errorf("%w: report is required", ErrInvalidInput)
	}

	units, err := json.Marshal(report.Units)
	if err != nil {
		return 0, fmt.Errorf("encode units: %w", err)
	}

	rec := &repository.Incident{
		SessionID:     sessionID,
		VideoName:     videoName,
		FrameSeq:      int64(frameSeq),
		OffsetSeconds: offset.Seconds(),
		EmergencyType: string(report.EmergencyType),
		Confidence:    report.ConfidenceScore,
		Reason:        report.Reason,
		Location:      report.Location,
		Units:         datatypes.JSON(units),
		DetectedAt:    time.Now(),
	}

	if err := s.store.CreateIncident(ctx, rec); err != nil {
		s.log.Error().
			Err(err).
			Str("session_id", sessionID).
			Str("video", videoName).
			Msg("failed to archive incident report")
		return 0, fmt.Errorf("failed to archive incident report: %w", err)
	}

	s.log.Info().
		Int64("incident_id", rec.ID).
		Str("session_id", sessionID).
		Str("video", videoName).
		Str("emergency_type", rec.EmergencyType).
		Float64("confidence", rec.Confidence).
		Msg("archived incident report")

	return rec.ID, nil
}

func (s *IncidentService) FindIncidents(ctx context.Context, typeQuery, videoName *string, from, to *string, limit, offset int) ([]IncidentInfo, error) {
	var emergencyType *string
	if typeQuery != nil && *typeQuery != "" {
		normalized := strings.ToUpper(strings.TrimSpace(*typeQuery))
		if !knownEmergencyType(normalized) {
			return nil, fmt.Errorf("%w: unknown emergency type %q", ErrInvalidInput, *typeQuery)
		}
		emergencyType = &normalized
	}

	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.store.FindIncidents(ctx, emergencyType, videoName, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find incidents: %w", err)
	}

	result := make([]IncidentInfo, 0, len(records))
	for _, rec := range records {
		var units []incident.UnitDispatch
		if len(rec.Units) > 0 {
			if err := json.Unmarshal(rec.Units, &units); err != nil {
				s.log.Warn().Err(err).Int64("incident_id", rec.ID).Msg("stored units column is unreadable")
			}
		}
		result = append(result, IncidentInfo{
			ID:            rec.ID,
			SessionID:     rec.SessionID,
			VideoName:     rec.VideoName,
			FrameSeq:      rec.FrameSeq,
			OffsetSeconds: rec.OffsetSeconds,
			EmergencyType: rec.EmergencyType,
			Confidence:    rec.Confidence,
			Reason:        rec.Reason,
			Location:      rec.Location,
			Units:         units,
			DetectedAt:    rec.DetectedAt,
		})
	}

	return result, nil
}

func (s *IncidentService) CleanupOldIncidents(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		return 0, fmt.Errorf("%w: days must be at least 1", ErrInvalidInput)
	}
	deleted, err := s.store.DeleteOldIncidents(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old incidents")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old incidents")
	}
	return deleted, nil
}

// RecordSessionStart registers a streaming session in the archive.
func (s *IncidentService) RecordSessionStart(ctx context.Context, sessionID, videoName string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("%w: session id must be a uuid", ErrInvalidInput)
	}
	if videoName == "" {
		return fmt.Errorf("%w: video name is required", ErrInvalidInput)
	}
	rec := &repository.Session{
		ID:        sessionID,
		VideoName: videoName,
		StartedAt: time.Now(),
	}
	if err := s.store.StartSession(ctx, rec); err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordSessionEnd stamps the session outcome, one of the terminal state
// names ("finished", "failed") or "disconnected".
func (s *IncidentService) RecordSessionEnd(ctx context.Context, sessionID, outcome string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("%w: session id must be a uuid", ErrInvalidInput)
	}
	if err := s.store.FinishSession(ctx, sessionID, outcome, time.Now()); err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

func knownEmergencyType(s string) bool {
	switch incident.EmergencyType(s) {
	case incident.EmergencyCollision, incident.EmergencyRollover,
		incident.EmergencyPedestrian, incident.EmergencyFire, incident.EmergencyOther:
		return true
	}
	return false
}

type IncidentInfo struct {
	ID            int64                   `json:"id"`
	SessionID     string                  `json:"session_id"`
	VideoName     string                  `json:"video_name"`
	FrameSeq      int64                   `json:"frame_seq"`
	OffsetSeconds float64                 `json:"offset_seconds"`
	EmergencyType string                  `json:"emergency_type"`
	Confidence    float64                 `json:"confidence"`
	Reason        string                  `json:"reason"`
	Location      *string                 `json:"location,omitempty"`
	Units         []incident.UnitDispatch `json:"units"`
	DetectedAt    time.Time               `json:"detected_at"`
}
