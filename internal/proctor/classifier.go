package proctor

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Classifier turns measurements into violations. It is deterministic: the
// only clock it reads is the measurement timestamp.
type Classifier struct {
	policy atomic.Pointer[Policy]
}

func NewClassifier(p Policy) *Classifier {
	c := &Classifier{}
	c.SetPolicy(p)
	return c
}

// SetPolicy swaps the threshold table; safe to call while classifying.
func (c *Classifier) SetPolicy(p Policy) {
	p = p.normalized()
	c.policy.Store(&p)
}

func (c *Classifier) Policy() Policy {
	return *c.policy.Load()
}

// Observe pushes m into its channel window and returns the window. A nil
// window means the measurement carried nothing for its channel.
func (c *Classifier) Observe(h *StudentHistory, m Measurement) []Sample {
	p := c.policy.Load()
	switch m := m.(type) {
	case FaceMeasurement:
		return h.Update(ChannelFace, Sample{At: m.At, Flag: m.Count > 0, Value: float64(m.Count)})
	case HeadPoseMeasurement:
		switch {
		case m.Yaw != nil:
			return h.Update(ChannelGaze, Sample{At: m.At, Flag: math.Abs(*m.Yaw) > p.Head.AllowedAngle, Value: *m.Yaw})
		case m.GazeDeviated != nil:
			return h.Update(ChannelGaze, Sample{At: m.At, Flag: *m.GazeDeviated})
		}
		return nil
	case ObjectMeasurement:
		return h.Update(ChannelObject, Sample{At: m.At, Flag: p.prohibited(m.Class), Value: m.Confidence})
	case AudioMeasurement:
		return h.Update(ChannelAudio, Sample{At: m.At, Flag: m.IsSpeech, Value: m.SpeechRatio})
	case FocusMeasurement:
		return h.Update(ChannelFocus, Sample{At: m.At, Flag: !m.IsFocused})
	}
	return nil
}

// Classify inspects the history after m was observed and returns the
// violations m triggers, skipping types still in cooldown. It does not record
// the emissions; callers mark them once they are persisted.
func (c *Classifier) Classify(h *StudentHistory, m Measurement) []Violation {
	p := c.policy.Load()
	var out []Violation
	emit := func(v Violation) {
		if c.coolingDown(p, h, v.Type, v.Timestamp) {
			return
		}
		out = append(out, v)
	}

	switch m := m.(type) {
	case FaceMeasurement:
		switch {
		case m.Count == 0 && p.Face.Enabled:
			emit(NewViolation(FaceNotVisible, SeverityHigh, 1-m.Confidence,
				"No face visible in the camera frame", m.At))
		case m.Count > p.MultipleFaces.MaxAllowed && p.MultipleFaces.Enabled:
			emit(NewViolation(MultipleFaces, SeverityHigh, m.Confidence,
				fmt.Sprintf("Multiple faces detected (%d)", m.Count), m.At))
		}

	case HeadPoseMeasurement:
		if !p.Head.Enabled {
			break
		}
		w := h.Window(ChannelGaze)
		switch {
		case m.Yaw != nil:
			yaw := math.Abs(*m.Yaw)
			if yaw > p.Head.AllowedAngle && w.TrailingFlagged() >= p.Head.ConsecutiveFrames {
				emit(NewViolation(LookingAway, SeverityMedium, yaw/90,
					fmt.Sprintf("Looking away from the screen (%.0f° head turn)", yaw), m.At))
			}
		case m.GazeDeviated != nil:
			ratio := float64(w.Flagged(p.Head.GazeSamples)) / float64(p.Head.GazeSamples)
			if ratio >= p.Head.GazeRatio {
				emit(NewViolation(LookingAway, SeverityLow, ratio,
					"Gaze repeatedly directed away from the screen", m.At))
			}
		}

	case ObjectMeasurement:
		if !p.Object.Enabled || !p.prohibited(m.Class) {
			break
		}
		if m.Confidence >= p.Object.ConfidenceThreshold && m.RelativeArea <= p.Object.MaxRelativeArea {
			emit(NewViolation(ProhibitedObject, SeverityHigh, m.Confidence,
				fmt.Sprintf("Prohibited object detected: %s", m.Class), m.At))
		}

	case AudioMeasurement:
		if !p.Audio.Enabled {
			break
		}
		w := h.Window(ChannelAudio)
		ratio := float64(w.Flagged(p.Audio.Samples)) / float64(p.Audio.Samples)
		if ratio >= p.Audio.SpeechRatio {
			emit(NewViolation(TalkingDetected, SeverityMedium, ratio,
				"Sustained speech detected", m.At))
		}

	case FocusMeasurement:
		if !m.IsFocused && p.Focus.Enabled {
			emit(NewViolation(TabSwitch, SeverityMedium, 1.0,
				"Exam window lost focus", m.At))
		}
	}
	return out
}

func (c *Classifier) coolingDown(p *Policy, h *StudentHistory, t ViolationType, at time.Time) bool {
	last, ok := h.LastTriggered(t)
	if !ok {
		return false
	}
	cooldown := p.Cooldown(t)
	if cooldown <= 0 {
		return false
	}
	return at.Sub(last) < cooldown
}
