package proctor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Observer receives pipeline events, typically to feed metrics.
type Observer interface {
	SignalReceived(ch Channel)
	InvalidMeasurement(ch Channel)
	ViolationEmitted(v Violation)
	Escalated()
	PersistenceFailed()
	ActiveSessions(n int)
	IngestDuration(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) SignalReceived(Channel)       {}
func (nopObserver) InvalidMeasurement(Channel)   {}
func (nopObserver) ViolationEmitted(Violation)   {}
func (nopObserver) Escalated()                   {}
func (nopObserver) PersistenceFailed()           {}
func (nopObserver) ActiveSessions(int)           {}
func (nopObserver) IngestDuration(time.Duration) {}

// IngestResult is what the gateway turns into a push notification.
type IngestResult struct {
	Violations []Violation      `json:"violations"`
	Escalation EscalationResult `json:"escalation"`
}

// Engine is the single entry point for classified monitoring signals.
type Engine struct {
	registry   *Registry
	classifier *Classifier
	tracker    *EscalationTracker
	log        *zap.Logger
	observer   Observer
	now        func() time.Time
}

type EngineOption func(*Engine)

// WithObserver attaches an Observer to the engine.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithClock replaces the wall clock used for idle bookkeeping and
// completion timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
		e.tracker.now = now
	}
}

func NewEngine(policy Policy, store Store, log *zap.Logger, opts ...EngineOption) *Engine {
	classifier := NewClassifier(policy)
	e := &Engine{
		registry:   NewRegistry(classifier.Policy().WindowCapacity),
		classifier: classifier,
		log:        log,
		observer:   nopObserver{},
		now:        time.Now,
	}
	e.tracker = NewEscalationTracker(store, classifier.Policy, log)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicy applies a new threshold table. Window capacity changes only
// affect sessions created afterwards.
func (e *Engine) SetPolicy(p Policy) {
	e.classifier.SetPolicy(p)
	e.registry.setCapacity(e.classifier.Policy().WindowCapacity)
	e.log.Info("Detection policy updated",
		zap.Int("autoSubmitThreshold", e.classifier.Policy().AutoSubmitThreshold),
		zap.Int("windowCapacity", e.classifier.Policy().WindowCapacity),
	)
}

func (e *Engine) Policy() Policy { return e.classifier.Policy() }

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Tracker() *EscalationTracker { return e.tracker }

// Ingest classifies measurements for one attempt and records the resulting
// violations. Invalid measurements are skipped without affecting the others.
// A persistence failure returns an error and leaves cooldowns untouched so
// the condition can be reported again.
func (e *Engine) Ingest(ctx context.Context, a Attempt, measurements ...Measurement) (IngestResult, error) {
	start := e.now()
	defer func() { e.observer.IngestDuration(e.now().Sub(start)) }()

	var (
		result IngestResult
		recErr error
	)
	e.registry.With(a.Key, start, func(h *StudentHistory) {
		prev := h.triggeredSnapshot()
		seen := make(map[ViolationType]bool)
		var violations []Violation

		for _, m := range measurements {
			if m == nil {
				continue
			}
			e.observer.SignalReceived(m.Channel())
			if err := m.Validate(); err != nil {
				e.observer.InvalidMeasurement(m.Channel())
				e.log.Warn("Skipping invalid measurement",
					zap.String("session", a.Key.String()),
					zap.String("channel", string(m.Channel())),
					zap.Error(err),
				)
				continue
			}
			e.classifier.Observe(h, m)
			for _, v := range e.classifier.Classify(h, m) {
				if seen[v.Type] {
					continue
				}
				seen[v.Type] = true
				h.MarkTriggered(v.Type, v.Timestamp)
				violations = append(violations, v)
			}
		}

		esc, err := e.tracker.Record(ctx, a.SubmissionID, violations)
		if err != nil {
			h.restoreTriggered(prev)
			e.observer.PersistenceFailed()
			recErr = err
			return
		}

		if esc.Discarded {
			violations = nil
		}
		for _, v := range violations {
			e.observer.ViolationEmitted(v)
		}
		if esc.IsAutoSubmit() {
			e.observer.Escalated()
		}
		if esc.IsAutoSubmit() || esc.Discarded {
			e.registry.Release(a.Key)
		}
		result = IngestResult{Violations: violations, Escalation: esc}
	})
	e.observer.ActiveSessions(e.registry.Len())
	if recErr != nil {
		return IngestResult{}, recErr
	}
	return result, nil
}

// Complete ends an attempt on a normal submit and disposes of its history.
func (e *Engine) Complete(ctx context.Context, a Attempt) (bool, error) {
	completed, err := e.tracker.Complete(ctx, a.SubmissionID)
	if err != nil {
		return false, err
	}
	e.registry.Release(a.Key)
	e.observer.ActiveSessions(e.registry.Len())
	return completed, nil
}

// Sweep disposes of histories idle for longer than idle.
func (e *Engine) Sweep(idle time.Duration) []SessionKey {
	evicted := e.registry.Sweep(idle, e.now())
	e.observer.ActiveSessions(e.registry.Len())
	return evicted
}
