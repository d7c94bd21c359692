package proctor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrConflict is returned by a unit of work when the submission is no
	// longer in the expected status.
	ErrConflict = errors.New("submission status conflict")
	// ErrSubmissionNotFound is returned when no submission has the given id.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrPersistence wraps any storage failure that aborted a record call.
	ErrPersistence = errors.New("persistence failure")
	// ErrInvalidMeasurement marks a measurement that cannot be classified.
	ErrInvalidMeasurement = errors.New("invalid measurement")
)

// SessionKey identifies one student's attempt at one exam in the registry.
type SessionKey struct {
	ExamID    uint
	StudentID uint
}

func (k SessionKey) String() string {
	return fmt.Sprintf("exam:%d/student:%d", k.ExamID, k.StudentID)
}

// Attempt binds a session key to the submission that persists its count.
type Attempt struct {
	SubmissionID uint
	Key          SessionKey
}

// Channel is one signal modality tracked in a StudentHistory.
type Channel string

const (
	ChannelFace   Channel = "face"
	ChannelGaze   Channel = "gaze"
	ChannelObject Channel = "object"
	ChannelAudio  Channel = "audio"
	ChannelFocus  Channel = "focus"
)

// ViolationType is the stable identifier of a violation kind.
type ViolationType string

const (
	FaceNotVisible   ViolationType = "face_not_visible"
	MultipleFaces    ViolationType = "multiple_faces"
	LookingAway      ViolationType = "looking_away"
	ProhibitedObject ViolationType = "prohibited_object"
	TalkingDetected  ViolationType = "talking_detected"
	TabSwitch        ViolationType = "tab_switch"
)

// ViolationTypes lists every type in a stable order.
var ViolationTypes = []ViolationType{
	FaceNotVisible,
	MultipleFaces,
	LookingAway,
	ProhibitedObject,
	TalkingDetected,
	TabSwitch,
}

// Valid reports whether t is one of the known violation types.
func (t ViolationType) Valid() bool {
	for _, known := range ViolationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Violation is an immutable, classified infraction.
type Violation struct {
	Type       ViolationType `json:"type"`
	Severity   Severity      `json:"severity"`
	Confidence float64       `json:"confidence"`
	Message    string        `json:"message"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewViolation builds a Violation with its confidence clamped to [0,1].
func NewViolation(t ViolationType, sev Severity, confidence float64, msg string, at time.Time) Violation {
	return Violation{
		Type:       t,
		Severity:   sev,
		Confidence: clampUnit(confidence),
		Message:    msg,
		Timestamp:  at,
	}
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Action is the branch taken by the escalation tracker.
type Action string

const (
	ActionContinue   Action = "continue"
	ActionAutoSubmit Action = "auto_submit"
)

// EscalationResult is Continue(Count) or AutoSubmit(Count, Reason).
// Discarded is set when the submission was already completed and the
// violations were dropped.
type EscalationResult struct {
	Action    Action `json:"action"`
	Count     int    `json:"count"`
	Reason    string `json:"reason,omitempty"`
	Discarded bool   `json:"discarded,omitempty"`
}

// Continue returns a non-escalating result.
func Continue(count int) EscalationResult {
	return EscalationResult{Action: ActionContinue, Count: count}
}

// AutoSubmit returns an escalating result.
func AutoSubmit(count int, reason string) EscalationResult {
	return EscalationResult{Action: ActionAutoSubmit, Count: count, Reason: reason}
}

// IsAutoSubmit reports whether this result ended the session.
func (r EscalationResult) IsAutoSubmit() bool {
	return r.Action == ActionAutoSubmit
}
