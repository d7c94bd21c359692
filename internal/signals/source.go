package signals

import (
	"context"
	"errors"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
)

var (
	// ErrUnavailable means the detector is not loaded, unreachable or timed
	// out. The affected channel is skipped for that input.
	ErrUnavailable = errors.New("signal source unavailable")
	// ErrInvalidMeasurement is returned for undecodable payloads.
	ErrInvalidMeasurement = proctor.ErrInvalidMeasurement
)

// Detector names reported by Status.
const (
	DetectorFace     = "face"
	DetectorHeadPose = "head_pose"
	DetectorObject   = "object"
	DetectorAudio    = "audio"
)

// Source analyzes raw webcam frames and audio chunks.
type Source interface {
	AnalyzeFrame(ctx context.Context, frame []byte) (FrameReading, error)
	AnalyzeAudio(ctx context.Context, chunk []byte) (AudioReading, error)
	// Status reports which detectors are currently usable.
	Status() map[string]bool
}

type FaceReading struct {
	Count      int     `json:"count" yaml:"count"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// HeadPoseReading carries yaw in degrees and, from gaze-only models, a
// deviation flag. Either may be absent.
type HeadPoseReading struct {
	Yaw          *float64 `json:"yaw,omitempty" yaml:"yaw,omitempty"`
	GazeDeviated *bool    `json:"gaze_deviated,omitempty" yaml:"gaze_deviated,omitempty"`
}

// ObjectReading is the most confident detection in a frame. An empty Class
// means the detector ran and found nothing.
type ObjectReading struct {
	Class        string  `json:"class" yaml:"class"`
	Confidence   float64 `json:"confidence" yaml:"confidence"`
	RelativeArea float64 `json:"relative_area" yaml:"relative_area"`
}

// FrameReading is everything the detectors said about one frame. A nil part
// means that detector did not run.
type FrameReading struct {
	Face     *FaceReading     `json:"face,omitempty" yaml:"face,omitempty"`
	HeadPose *HeadPoseReading `json:"head_pose,omitempty" yaml:"head_pose,omitempty"`
	Object   *ObjectReading   `json:"object,omitempty" yaml:"object,omitempty"`
}

// Measurements splits the reading into per-channel measurements stamped at.
func (r FrameReading) Measurements(at time.Time) []proctor.Measurement {
	var ms []proctor.Measurement
	if r.Face != nil {
		ms = append(ms, proctor.FaceMeasurement{Count: r.Face.Count, Confidence: r.Face.Confidence, At: at})
	}
	if r.HeadPose != nil && (r.HeadPose.Yaw != nil || r.HeadPose.GazeDeviated != nil) {
		ms = append(ms, proctor.HeadPoseMeasurement{Yaw: r.HeadPose.Yaw, GazeDeviated: r.HeadPose.GazeDeviated, At: at})
	}
	if r.Object != nil {
		ms = append(ms, proctor.ObjectMeasurement{
			Class:        r.Object.Class,
			Confidence:   r.Object.Confidence,
			RelativeArea: r.Object.RelativeArea,
			At:           at,
		})
	}
	return ms
}

type AudioReading struct {
	IsSpeech    bool    `json:"is_speech" yaml:"is_speech"`
	SpeechRatio float64 `json:"speech_ratio" yaml:"speech_ratio"`
}

func (r AudioReading) Measurement(at time.Time) proctor.Measurement {
	return proctor.AudioMeasurement{IsSpeech: r.IsSpeech, SpeechRatio: r.SpeechRatio, At: at}
}

// NullSource has no detectors; only client-reported readings are classified.
type NullSource struct{}

func (NullSource) AnalyzeFrame(context.Context, []byte) (FrameReading, error) {
	return FrameReading{}, ErrUnavailable
}

func (NullSource) AnalyzeAudio(context.Context, []byte) (AudioReading, error) {
	return AudioReading{}, ErrUnavailable
}

func (NullSource) Status() map[string]bool {
	return map[string]bool{
		DetectorFace:     false,
		DetectorHeadPose: false,
		DetectorObject:   false,
		DetectorAudio:    false,
	}
}
