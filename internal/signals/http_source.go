package signals

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPSource posts frames and audio chunks to a detector sidecar:
//
//	POST {base}/analyze/frame  {"frame": "<base64>"}  -> FrameReading
//	POST {base}/analyze/audio  {"audio": "<base64>"}  -> AudioReading
//	GET  {base}/status                                -> {"face": true, ...}
type HTTPSource struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger

	mu     sync.RWMutex
	status map[string]bool
}

func NewHTTPSource(baseURL string, timeout time.Duration, log *zap.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
		status:  NullSource{}.Status(),
	}
}

func (s *HTTPSource) AnalyzeFrame(ctx context.Context, frame []byte) (FrameReading, error) {
	var reading FrameReading
	err := s.post(ctx, "/analyze/frame", map[string]string{"frame": base64.StdEncoding.EncodeToString(frame)}, &reading)
	s.setStatus(DetectorFace, err == nil && reading.Face != nil)
	s.setStatus(DetectorHeadPose, err == nil && reading.HeadPose != nil)
	s.setStatus(DetectorObject, err == nil && reading.Object != nil)
	return reading, err
}

func (s *HTTPSource) AnalyzeAudio(ctx context.Context, chunk []byte) (AudioReading, error) {
	var reading AudioReading
	err := s.post(ctx, "/analyze/audio", map[string]string{"audio": base64.StdEncoding.EncodeToString(chunk)}, &reading)
	s.setStatus(DetectorAudio, err == nil)
	return reading, err
}

// Status returns the detector availability seen on the most recent calls.
func (s *HTTPSource) Status() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// Refresh asks the sidecar which detectors it has loaded.
func (s *HTTPSource) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}
	var status map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode detector status: %w", err)
	}
	for name, ok := range status {
		s.setStatus(name, ok)
	}
	return nil
}

func (s *HTTPSource) setStatus(name string, ok bool) {
	s.mu.Lock()
	s.status[name] = ok
	s.mu.Unlock()
}

func (s *HTTPSource) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Debug("Detector call failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: detector rejected input: %s", ErrInvalidMeasurement, strings.TrimSpace(string(msg)))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: detector returned %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed detector response: %v", ErrUnavailable, err)
	}
	return nil
}
