package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memSubmission struct {
	state         SubmissionState
	warnings      []Violation
	autoSubmitted bool
	reason        string
	submittedAt   time.Time
}

// memStore is a transactional in-memory Store: fn works on a copy that is
// committed only when fn returns nil.
type memStore struct {
	mu          sync.Mutex
	subs        map[uint]*memSubmission
	failAppend  error
	failMark    error
	autoSubmits int
}

func newMemStore() *memStore {
	return &memStore{subs: make(map[uint]*memSubmission)}
}

func (s *memStore) add(id uint, count int, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = &memSubmission{state: SubmissionState{ID: id, ExamID: 1, StudentID: id, Status: status, CheatingCount: count}}
}

func (s *memStore) get(id uint) memSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

func (s *memStore) Atomically(ctx context.Context, fn func(uow UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, staged: make(map[uint]*memSubmission)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, sub := range tx.staged {
		if sub.autoSubmitted && !s.subs[id].autoSubmitted {
			s.autoSubmits++
		}
		s.subs[id] = sub
	}
	return nil
}

type memTx struct {
	store  *memStore
	staged map[uint]*memSubmission
}

func (tx *memTx) load(id uint) (*memSubmission, error) {
	if sub, ok := tx.staged[id]; ok {
		return sub, nil
	}
	sub, ok := tx.store.subs[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	cp := *sub
	cp.warnings = append([]Violation(nil), sub.warnings...)
	tx.staged[id] = &cp
	return &cp, nil
}

func (tx *memTx) GetSubmission(id uint) (SubmissionState, error) {
	sub, err := tx.load(id)
	if err != nil {
		return SubmissionState{}, err
	}
	return sub.state, nil
}

func (tx *memTx) AppendViolations(id uint, violations []Violation, expected Status) (int, error) {
	sub, err := tx.load(id)
	if err != nil {
		return 0, err
	}
	if sub.state.Status != expected {
		return sub.state.CheatingCount, ErrConflict
	}
	// Stage the count first so a later failure proves the rollback.
	sub.state.CheatingCount += len(violations)
	if tx.store.failAppend != nil {
		return 0, tx.store.failAppend
	}
	sub.warnings = append(sub.warnings, violations...)
	return sub.state.CheatingCount, nil
}

func (tx *memTx) MarkCompleted(id uint, autoSubmitted bool, reason string, at time.Time) error {
	sub, err := tx.load(id)
	if err != nil {
		return err
	}
	if sub.state.Status == StatusCompleted {
		return ErrConflict
	}
	if tx.store.failMark != nil {
		return tx.store.failMark
	}
	sub.state.Status = StatusCompleted
	sub.autoSubmitted = autoSubmitted
	sub.reason = reason
	sub.submittedAt = at
	return nil
}

func TestMemStoreRollsBackOnError(t *testing.T) {
	s := newMemStore()
	s.add(1, 0, StatusInProgress)
	boom := errors.New("boom")
	err := s.Atomically(context.Background(), func(uow UnitOfWork) error {
		if _, err := uow.AppendViolations(1, []Violation{{Type: TabSwitch}}, StatusInProgress); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := s.get(1).state.CheatingCount; got != 0 {
		t.Fatalf("expected rollback to count 0, got %d", got)
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
