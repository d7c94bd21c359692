package models

import "time"

const (
	ActionAutoSubmit = "auto_submit"
	ActionSubmit     = "submit"
)

type SystemLog struct {
	ID           uint   `gorm:"primaryKey"`
	Action       string `gorm:"type:varchar(50);not null;index"`
	SubmissionID uint   `gorm:"index"`
	Details      string
	CreatedAt    time.Time
}
