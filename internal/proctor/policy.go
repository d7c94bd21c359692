package proctor

import (
	"strings"
	"time"
)

// DefaultAutoSubmitReason is stored on submissions closed by escalation.
const DefaultAutoSubmitReason = "Multiple cheating violations detected"

// Policy is the full threshold table used by the classifier and tracker.
type Policy struct {
	WindowCapacity      int
	AutoSubmitThreshold int
	AutoSubmitReason    string

	Face          FacePolicy
	MultipleFaces MultipleFacesPolicy
	Head          HeadPolicy
	Object        ObjectPolicy
	Audio         AudioPolicy
	Focus         FocusPolicy
}

type FacePolicy struct {
	Enabled  bool
	Cooldown time.Duration
}

type MultipleFacesPolicy struct {
	Enabled    bool
	MaxAllowed int
	Cooldown   time.Duration
}

// HeadPolicy governs looking_away. With a yaw estimate the last
// ConsecutiveFrames samples must all exceed AllowedAngle; with only a gaze
// flag, GazeRatio of the last GazeSamples samples must be deviated.
type HeadPolicy struct {
	Enabled           bool
	AllowedAngle      float64
	ConsecutiveFrames int
	GazeSamples       int
	GazeRatio         float64
	Cooldown          time.Duration
}

type ObjectPolicy struct {
	Enabled             bool
	ConfidenceThreshold float64
	MaxRelativeArea     float64
	ProhibitedClasses   []string
	Cooldown            time.Duration
}

type AudioPolicy struct {
	Enabled     bool
	Samples     int
	SpeechRatio float64
	Cooldown    time.Duration
}

// FocusPolicy governs tab_switch. A zero Cooldown means every focus loss is
// reported.
type FocusPolicy struct {
	Enabled  bool
	Cooldown time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		WindowCapacity:      DefaultWindowCapacity,
		AutoSubmitThreshold: 3,
		AutoSubmitReason:    DefaultAutoSubmitReason,
		Face:                FacePolicy{Enabled: true, Cooldown: 30 * time.Second},
		MultipleFaces:       MultipleFacesPolicy{Enabled: true, MaxAllowed: 1, Cooldown: 30 * time.Second},
		Head: HeadPolicy{
			Enabled:           true,
			AllowedAngle:      35,
			ConsecutiveFrames: 3,
			GazeSamples:       10,
			GazeRatio:         0.8,
			Cooldown:          60 * time.Second,
		},
		Object: ObjectPolicy{
			Enabled:             true,
			ConfidenceThreshold: 0.75,
			MaxRelativeArea:     0.15,
			ProhibitedClasses:   []string{"cell phone", "book", "laptop", "headphones"},
			Cooldown:            90 * time.Second,
		},
		Audio: AudioPolicy{Enabled: true, Samples: 20, SpeechRatio: 0.75, Cooldown: 45 * time.Second},
		Focus: FocusPolicy{Enabled: true, Cooldown: 0},
	}
}

// Cooldown returns the suppression period for t.
func (p Policy) Cooldown(t ViolationType) time.Duration {
	switch t {
	case FaceNotVisible:
		return p.Face.Cooldown
	case MultipleFaces:
		return p.MultipleFaces.Cooldown
	case LookingAway:
		return p.Head.Cooldown
	case ProhibitedObject:
		return p.Object.Cooldown
	case TalkingDetected:
		return p.Audio.Cooldown
	case TabSwitch:
		return p.Focus.Cooldown
	}
	return 0
}

func (p Policy) prohibited(class string) bool {
	class = strings.ToLower(strings.TrimSpace(class))
	if class == "" {
		return false
	}
	for _, c := range p.Object.ProhibitedClasses {
		if strings.ToLower(c) == class {
			return true
		}
	}
	return false
}

// normalized fills zero values that would make a rule meaningless.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.WindowCapacity <= 0 {
		p.WindowCapacity = d.WindowCapacity
	}
	if p.AutoSubmitThreshold <= 0 {
		p.AutoSubmitThreshold = d.AutoSubmitThreshold
	}
	if p.AutoSubmitReason == "" {
		p.AutoSubmitReason = d.AutoSubmitReason
	}
	if p.Head.ConsecutiveFrames <= 0 {
		p.Head.ConsecutiveFrames = d.Head.ConsecutiveFrames
	}
	if p.Head.GazeSamples <= 0 {
		p.Head.GazeSamples = d.Head.GazeSamples
	}
	if p.Audio.Samples <= 0 {
		p.Audio.Samples = d.Audio.Samples
	}
	if p.MultipleFaces.MaxAllowed <= 0 {
		p.MultipleFaces.MaxAllowed = d.MultipleFaces.MaxAllowed
	}
	// A window never holds more samples than its capacity.
	p.Head.ConsecutiveFrames = min(p.Head.ConsecutiveFrames, p.WindowCapacity)
	p.Head.GazeSamples = min(p.Head.GazeSamples, p.WindowCapacity)
	p.Audio.Samples = min(p.Audio.Samples, p.WindowCapacity)
	return p
}
