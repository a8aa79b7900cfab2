package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type IncidentRepository struct {
	db *gorm.DB
}

func NewIncidentRepository(db *gorm.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

type Incident struct {
	ID            int64          `gorm:"primaryKey"`
	SessionID     string         `gorm:"type:uuid;not null;index"`
	VideoName     string         `gorm:"not null;index"`
	FrameSeq      int64          `gorm:"not null"`
	OffsetSeconds float64        `gorm:"not null"`
	EmergencyType string         `gorm:"not null;index"`
	Confidence    float64        `gorm:"not null"`
	Reason        string         `gorm:"not null"`
	Location      *string
	Units         datatypes.JSON `gorm:"type:jsonb"`
	DetectedAt    time.Time      `gorm:"not null;index"`
	CreatedAt     time.Time
}

type Session struct {
	ID         string     `gorm:"type:uuid;primaryKey"`
	VideoName  string     `gorm:"not null"`
	StartedAt  time.Time  `gorm:"not null"`
	FinishedAt *time.Time
	Outcome    *string
	CreatedAt  time.Time
}

func (r *IncidentRepository) CreateIncident(ctx context.Context, rec *Incident) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *IncidentRepository) FindIncidents(ctx context.Context, emergencyType, videoName *string, from, to *time.Time, limit, offset int) ([]Incident, error) {
	query := r.db.WithContext(ctx).Model(&Incident{})

	if emergencyType != nil {
		query = query.Where("emergency_type = ?", *emergencyType)
	}
	if videoName != nil {
		query = query.Where("video_name = ?", *videoName)
	}
	if from != nil {
		query = query.Where("detected_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("detected_at <= ?", *to)
	}

	query = query.Order("detected_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var incidents []Incident
	err := query.Find(&incidents).Error
	return incidents, err
}

func (r *IncidentRepository) DeleteOldIncidents(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&Incident{})
	return res.RowsAffected, res.Error
}

func (r *IncidentRepository) StartSession(ctx context.Context, rec *Session) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *IncidentRepository) FinishSession(ctx context.Context, id, outcome string, finishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome":     outcome,
			"finished_at": finishedAt,
		}).Error
}
