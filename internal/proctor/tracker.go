package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// SubmissionState is the slice of a submission the tracker needs.
type SubmissionState struct {
	ID            uint
	ExamID        uint
	StudentID     uint
	Status        Status
	CheatingCount int
}

// UnitOfWork is the set of storage operations available inside one atomic
// transaction.
type UnitOfWork interface {
	GetSubmission(id uint) (SubmissionState, error)
	// AppendViolations adds violations to the warning log and the count,
	// provided the submission is still in expected status. On a status
	// mismatch it returns the current count and ErrConflict.
	AppendViolations(id uint, violations []Violation, expected Status) (int, error)
	// MarkCompleted closes an in-progress submission. It returns ErrConflict
	// when the submission is already completed.
	MarkCompleted(id uint, autoSubmitted bool, reason string, at time.Time) error
}

// Store runs fn inside a single transaction; any error from fn rolls back
// everything fn did.
type Store interface {
	Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// EscalationTracker owns the violation count and the auto-submit decision.
type EscalationTracker struct {
	store  Store
	log    *zap.Logger
	now    func() time.Time
	locks  keyedMutex
	policy func() Policy
}

func NewEscalationTracker(store Store, policy func() Policy, log *zap.Logger) *EscalationTracker {
	return &EscalationTracker{
		store:  store,
		log:    log,
		now:    time.Now,
		policy: policy,
	}
}

// Record appends violations to the submission and decides whether the new
// count crosses the auto-submit threshold. When the submission is already
// completed the violations are discarded and the frozen count is returned.
func (t *EscalationTracker) Record(ctx context.Context, submissionID uint, violations []Violation) (EscalationResult, error) {
	unlock := t.locks.Lock(submissionID)
	defer unlock()

	p := t.policy()
	var result EscalationResult
	err := t.store.Atomically(ctx, func(uow UnitOfWork) error {
		if len(violations) == 0 {
			sub, err := uow.GetSubmission(submissionID)
			if err != nil {
				return err
			}
			result = Continue(sub.CheatingCount)
			result.Discarded = sub.Status == StatusCompleted
			return nil
		}

		count, err := uow.AppendViolations(submissionID, violations, StatusInProgress)
		if errors.Is(err, ErrConflict) {
			result = Continue(count)
			result.Discarded = true
			return nil
		}
		if err != nil {
			return err
		}

		if count < p.AutoSubmitThreshold {
			result = Continue(count)
			return nil
		}
		if err := uow.MarkCompleted(submissionID, true, p.AutoSubmitReason, t.now()); err != nil {
			return err
		}
		result = AutoSubmit(count, p.AutoSubmitReason)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return EscalationResult{}, err
		}
		return EscalationResult{}, fmt.Errorf("%w: record violations for submission %d: %v", ErrPersistence, submissionID, err)
	}

	if result.Discarded && len(violations) > 0 {
		t.log.Info("Discarded violations for completed submission",
			zap.Uint("submissionID", submissionID),
			zap.Int("violations", len(violations)),
			zap.Int("count", result.Count),
		)
	}
	if result.IsAutoSubmit() {
		t.log.Warn("Submission auto-submitted",
			zap.Uint("submissionID", submissionID),
			zap.Int("count", result.Count),
			zap.String("reason", result.Reason),
		)
	}
	return result, nil
}

// Complete closes a submission on a normal student submit. It reports false
// when the submission was already completed.
func (t *EscalationTracker) Complete(ctx context.Context, submissionID uint) (bool, error) {
	unlock := t.locks.Lock(submissionID)
	defer unlock()

	completed := false
	err := t.store.Atomically(ctx, func(uow UnitOfWork) error {
		err := uow.MarkCompleted(submissionID, false, "", t.now())
		if errors.Is(err, ErrConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		completed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return false, err
		}
		return false, fmt.Errorf("%w: complete submission %d: %v", ErrPersistence, submissionID, err)
	}
	return completed, nil
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key uint) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uint]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
