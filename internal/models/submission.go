package models

import (
	"time"
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Warning is one violation as stored in a submission's warning log.
type Warning struct {
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	Confidence float64   `json:"confidence"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// Submission is one student's attempt at one exam. CheatingCount is the
// authoritative violation count; it is frozen once Status is completed.
type Submission struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	ExamID           uint       `gorm:"not null;index:idx_submission_attempt" json:"exam_id"`
	StudentID        uint       `gorm:"not null;index:idx_submission_attempt" json:"student_id"`
	Status           string     `gorm:"type:varchar(20);not null;default:in_progress;index" json:"status"`
	CheatingCount    int        `gorm:"not null;default:0" json:"cheating_count"`
	Warnings         []Warning  `gorm:"type:text;serializer:json" json:"warnings"`
	AutoSubmitted    bool       `gorm:"not null;default:false" json:"auto_submitted"`
	AutoSubmitReason string     `json:"auto_submit_reason,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	CreatedAt        time.Time  `json:"-"`
	UpdatedAt        time.Time  `json:"-"`

	Events []CheatingEvent `gorm:"foreignKey:SubmissionID" json:"events,omitempty"`
}
