package signals

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Script is a fixed sequence of detector outputs for demo mode.
type Script struct {
	Frames []FrameReading  `yaml:"frames"`
	Audio  []AudioReading  `yaml:"audio"`
	Status map[string]bool `yaml:"status"`
}

// ScriptedSource replays a Script in order, looping at the end. It is the
// demo-mode stand-in for real detectors.
type ScriptedSource struct {
	script Script

	mu    sync.Mutex
	frame int
	audio int
}

func NewScriptedSource(script Script) *ScriptedSource {
	return &ScriptedSource{script: script}
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (*ScriptedSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read demo script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse demo script %s: %w", path, err)
	}
	return NewScriptedSource(script), nil
}

func (s *ScriptedSource) AnalyzeFrame(ctx context.Context, _ []byte) (FrameReading, error) {
	if err := ctx.Err(); err != nil {
		return FrameReading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script.Frames) == 0 {
		return FrameReading{}, ErrUnavailable
	}
	r := s.script.Frames[s.frame%len(s.script.Frames)]
	s.frame++
	return r, nil
}

func (s *ScriptedSource) AnalyzeAudio(ctx context.Context, _ []byte) (AudioReading, error) {
	if err := ctx.Err(); err != nil {
		return AudioReading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script.Audio) == 0 {
		return AudioReading{}, ErrUnavailable
	}
	r := s.script.Audio[s.audio%len(s.script.Audio)]
	s.audio++
	return r, nil
}

func (s *ScriptedSource) Status() map[string]bool {
	out := map[string]bool{
		DetectorFace:     len(s.script.Frames) > 0,
		DetectorHeadPose: len(s.script.Frames) > 0,
		DetectorObject:   len(s.script.Frames) > 0,
		DetectorAudio:    len(s.script.Audio) > 0,
	}
	for k, v := range s.script.Status {
		out[k] = v
	}
	return out
}
