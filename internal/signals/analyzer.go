package signals

import (
	"context"
	"errors"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"go.uber.org/zap"
)

// UnavailableRecorder counts inputs that could not be analyzed.
type UnavailableRecorder interface {
	SignalUnavailable(ch proctor.Channel)
}

type nopRecorder struct{}

func (nopRecorder) SignalUnavailable(proctor.Channel) {}

// Analyzer runs a Source under a per-call deadline and converts its output
// into measurements. It must be called before the session lock is taken so
// a slow detector only delays its own request.
type Analyzer struct {
	src      Source
	timeout  time.Duration
	log      *zap.Logger
	recorder UnavailableRecorder
}

func NewAnalyzer(src Source, timeout time.Duration, log *zap.Logger, recorder UnavailableRecorder) *Analyzer {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Analyzer{src: src, timeout: timeout, log: log, recorder: recorder}
}

func (a *Analyzer) Status() map[string]bool { return a.src.Status() }

// Frame validates and analyzes one webcam frame. An unavailable or timed-out
// detector yields no measurements and no error; an undecodable frame yields
// ErrInvalidMeasurement.
func (a *Analyzer) Frame(ctx context.Context, frame []byte, at time.Time) ([]proctor.Measurement, error) {
	if _, err := ValidateFrame(frame); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reading, err := a.src.AnalyzeFrame(ctx, frame)
	if err != nil {
		if a.unavailable(err, proctor.ChannelFace) {
			return nil, nil
		}
		return nil, err
	}
	return reading.Measurements(at), nil
}

// Audio analyzes one audio chunk with the same rules as Frame.
func (a *Analyzer) Audio(ctx context.Context, chunk []byte, at time.Time) ([]proctor.Measurement, error) {
	if len(chunk) == 0 {
		return nil, ErrInvalidMeasurement
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reading, err := a.src.AnalyzeAudio(ctx, chunk)
	if err != nil {
		if a.unavailable(err, proctor.ChannelAudio) {
			return nil, nil
		}
		return nil, err
	}
	return []proctor.Measurement{reading.Measurement(at)}, nil
}

func (a *Analyzer) unavailable(err error, ch proctor.Channel) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		a.recorder.SignalUnavailable(ch)
		a.log.Debug("Signal unavailable", zap.String("channel", string(ch)), zap.Error(err))
		return true
	}
	return false
}
