package repository

import (
	"context"

	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"gorm.io/gorm"
)

// TypeCount is the number of recorded events of one violation type.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// Stats summarizes proctoring activity across all exams.
type Stats struct {
	Submissions   int64       `json:"submissions"`
	CheatingCases int64       `json:"cheating_cases"`
	AutoSubmitted int64       `json:"auto_submitted"`
	TotalEvents   int64       `json:"total_events"`
	EventsByType  []TypeCount `json:"events_by_type"`
	OpenAttempts  int64       `json:"open_attempts"`
}

// CheatingCases lists submissions with at least one violation, newest
// first, each with its events in timestamp order.
func (r *SubmissionRepository) CheatingCases(ctx context.Context, examID uint, limit int) ([]models.Submission, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order(`"timestamp" ASC`)
		}).
		Where("cheating_count > 0")
	if examID != 0 {
		q = q.Where("exam_id = ?", examID)
	}

	var subs []models.Submission
	err := q.Order("updated_at DESC").Limit(limit).Find(&subs).Error
	return subs, err
}

// Events lists one submission's cheating events in timestamp order.
func (r *SubmissionRepository) Events(ctx context.Context, submissionID uint) ([]models.CheatingEvent, error) {
	var events []models.CheatingEvent
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order(`"timestamp" ASC`).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

// Stats aggregates counts over submissions and events.
func (r *SubmissionRepository) Stats(ctx context.Context) (Stats, error) {
	db := r.db.WithContext(ctx)
	var s Stats

	if err := db.Model(&models.Submission{}).Count(&s.Submissions).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.Submission{}).Where("cheating_count > 0").Count(&s.CheatingCases).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.Submission{}).Where("auto_submitted = ?", true).Count(&s.AutoSubmitted).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.Submission{}).Where("status = ?", models.StatusInProgress).Count(&s.OpenAttempts).Error; err != nil {
		return s, err
	}
	if err := db.Model(&models.CheatingEvent{}).Count(&s.TotalEvents).Error; err != nil {
		return s, err
	}
	err := db.Model(&models.CheatingEvent{}).
		Select("event_type, COUNT(*) AS count").
		Group("event_type").
		Order("count DESC, event_type ASC").
		Scan(&s.EventsByType).Error
	return s, err
}

// AuditLog returns the audit entries for one submission.
func (r *SubmissionRepository) AuditLog(ctx context.Context, submissionID uint) ([]models.SystemLog, error) {
	var logs []models.SystemLog
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}
