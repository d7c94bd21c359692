package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/models"
	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubmissionRepository persists exam attempts, their warning logs and the
// audit trail. It implements proctor.Store.
type SubmissionRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewSubmissionRepository(db *gorm.DB, log *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{db: db, log: log}
}

// Atomically runs fn inside one database transaction.
func (r *SubmissionRepository) Atomically(ctx context.Context, fn func(uow proctor.UnitOfWork) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&unitOfWork{tx: tx})
	})
}

type unitOfWork struct {
	tx *gorm.DB
}

func (u *unitOfWork) load(id uint) (*models.Submission, error) {
	var sub models.Submission
	if err := u.tx.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, proctor.ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (u *unitOfWork) GetSubmission(id uint) (proctor.SubmissionState, error) {
	sub, err := u.load(id)
	if err != nil {
		return proctor.SubmissionState{}, err
	}
	return toState(sub), nil
}

// AppendViolations increments the count with a status-guarded UPDATE, so a
// concurrent completion in another process turns the append into a conflict.
func (u *unitOfWork) AppendViolations(id uint, violations []proctor.Violation, expected proctor.Status) (int, error) {
	res := u.tx.Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Update("cheating_count", gorm.Expr("cheating_count + ?", len(violations)))
	if res.Error != nil {
		return 0, res.Error
	}
	sub, err := u.load(id)
	if err != nil {
		return 0, err
	}
	if res.RowsAffected == 0 {
		return sub.CheatingCount, proctor.ErrConflict
	}

	events := make([]models.CheatingEvent, 0, len(violations))
	for _, v := range violations {
		sub.Warnings = append(sub.Warnings, toWarning(v))
		events = append(events, models.CheatingEvent{
			SubmissionID: sub.ID,
			StudentID:    sub.StudentID,
			ExamID:       sub.ExamID,
			EventType:    string(v.Type),
			Severity:     string(v.Severity),
			Confidence:   v.Confidence,
			Description:  v.Message,
			Timestamp:    v.Timestamp,
		})
	}
	if err := u.tx.Model(&models.Submission{ID: id}).Select("warnings").Updates(&models.Submission{Warnings: sub.Warnings}).Error; err != nil {
		return 0, fmt.Errorf("update warning log: %w", err)
	}
	if len(events) > 0 {
		if err := u.tx.Create(&events).Error; err != nil {
			return 0, fmt.Errorf("insert cheating events: %w", err)
		}
	}
	return sub.CheatingCount, nil
}

func (u *unitOfWork) MarkCompleted(id uint, autoSubmitted bool, reason string, at time.Time) error {
	res := u.tx.Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.StatusInProgress).
		Updates(map[string]interface{}{
			"status":             models.StatusCompleted,
			"auto_submitted":     autoSubmitted,
			"auto_submit_reason": reason,
			"submitted_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := u.load(id); err != nil {
			return err
		}
		return proctor.ErrConflict
	}

	entry := models.SystemLog{Action: models.ActionSubmit, SubmissionID: id, Details: "submitted by student", CreatedAt: at}
	if autoSubmitted {
		entry.Action = models.ActionAutoSubmit
		entry.Details = reason
	}
	if err := u.tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// StartOrResume returns the student's open attempt at examID, creating one
// when none exists. created reports whether a new attempt was started.
func (r *SubmissionRepository) StartOrResume(ctx context.Context, examID, studentID uint, now time.Time) (sub *models.Submission, created bool, err error) {
	db := r.db.WithContext(ctx)
	find := func() (*models.Submission, error) {
		var s models.Submission
		err := db.Where("exam_id = ? AND student_id = ? AND status = ?", examID, studentID, models.StatusInProgress).
			Order("id DESC").
			First(&s).Error
		if err != nil {
			return nil, err
		}
		return &s, nil
	}

	existing, err := find()
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	fresh := &models.Submission{
		ExamID:    examID,
		StudentID: studentID,
		Status:    models.StatusInProgress,
		Warnings:  []models.Warning{},
		StartedAt: now,
	}
	if err := db.Create(fresh).Error; err != nil {
		// Lost a race against a concurrent start: the unique open-attempt
		// index rejected our row, so the winner's row exists now.
		if existing, findErr := find(); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	r.log.Info("Attempt started",
		zap.Uint("submissionID", fresh.ID),
		zap.Uint("examID", examID),
		zap.Uint("studentID", studentID),
	)
	return fresh, true, nil
}

// Get loads one submission.
func (r *SubmissionRepository) Get(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission
	if err := r.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, proctor.ErrSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func toState(sub *models.Submission) proctor.SubmissionState {
	return proctor.SubmissionState{
		ID:            sub.ID,
		ExamID:        sub.ExamID,
		StudentID:     sub.StudentID,
		Status:        proctor.Status(sub.Status),
		CheatingCount: sub.CheatingCount,
	}
}

func toWarning(v proctor.Violation) models.Warning {
	return models.Warning{
		Type:       string(v.Type),
		Severity:   string(v.Severity),
		Confidence: v.Confidence,
		Message:    v.Message,
		Timestamp:  v.Timestamp,
	}
}
