package models

import "time"

// CheatingEvent is the per-violation audit row written alongside the
// submission's warning log.
type CheatingEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	StudentID    uint      `gorm:"not null;index" json:"student_id"`
	ExamID       uint      `gorm:"not null" json:"exam_id"`
	EventType    string    `gorm:"type:varchar(32);not null;index" json:"event_type"`
	Severity     string    `gorm:"type:varchar(10);not null" json:"severity"`
	Confidence   float64   `json:"confidence"`
	Description  string    `json:"description"`
	Timestamp    time.Time `gorm:"not null" json:"timestamp"`
	CreatedAt    time.Time `json:"-"`
}
