package proctor

import (
	"fmt"
	"math"
	"time"
)

// Measurement is one timestamped observation from one modality. The set of
// implementations is closed: FaceMeasurement, HeadPoseMeasurement,
// ObjectMeasurement, AudioMeasurement and FocusMeasurement.
type Measurement interface {
	Channel() Channel
	Time() time.Time
	Validate() error
	measurement()
}

// FaceMeasurement is the face detector's output for one frame.
type FaceMeasurement struct {
	Count      int
	Confidence float64
	At         time.Time
}

// HeadPoseMeasurement carries a head-yaw estimate and, when yaw is not
// available, a coarser gaze-deviation flag. Both may be nil.
type HeadPoseMeasurement struct {
	Yaw          *float64
	GazeDeviated *bool
	At           time.Time
}

// ObjectMeasurement is the best object detection for one frame.
type ObjectMeasurement struct {
	Class        string
	Confidence   float64
	RelativeArea float64
	At           time.Time
}

// AudioMeasurement is one classified audio chunk.
type AudioMeasurement struct {
	IsSpeech    bool
	SpeechRatio float64
	At          time.Time
}

// FocusMeasurement is a browser focus change.
type FocusMeasurement struct {
	IsFocused bool
	At        time.Time
}

func (FaceMeasurement) Channel() Channel     { return ChannelFace }
func (HeadPoseMeasurement) Channel() Channel { return ChannelGaze }
func (ObjectMeasurement) Channel() Channel   { return ChannelObject }
func (AudioMeasurement) Channel() Channel    { return ChannelAudio }
func (FocusMeasurement) Channel() Channel    { return ChannelFocus }

func (m FaceMeasurement) Time() time.Time     { return m.At }
func (m HeadPoseMeasurement) Time() time.Time { return m.At }
func (m ObjectMeasurement) Time() time.Time   { return m.At }
func (m AudioMeasurement) Time() time.Time    { return m.At }
func (m FocusMeasurement) Time() time.Time    { return m.At }

func (FaceMeasurement) measurement()     {}
func (HeadPoseMeasurement) measurement() {}
func (ObjectMeasurement) measurement()   {}
func (AudioMeasurement) measurement()    {}
func (FocusMeasurement) measurement()    {}

func (m FaceMeasurement) Validate() error {
	if m.Count < 0 {
		return fmt.Errorf("%w: negative face count %d", ErrInvalidMeasurement, m.Count)
	}
	return checkUnit("face confidence", m.Confidence)
}

func (m HeadPoseMeasurement) Validate() error {
	if m.Yaw != nil && !isFinite(*m.Yaw) {
		return fmt.Errorf("%w: yaw is not finite", ErrInvalidMeasurement)
	}
	return nil
}

func (m ObjectMeasurement) Validate() error {
	if err := checkUnit("object confidence", m.Confidence); err != nil {
		return err
	}
	return checkUnit("object relative area", m.RelativeArea)
}

func (m AudioMeasurement) Validate() error {
	return checkUnit("speech ratio", m.SpeechRatio)
}

func (FocusMeasurement) Validate() error { return nil }

func checkUnit(name string, v float64) error {
	if !isFinite(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0,1]", ErrInvalidMeasurement, name, v)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
