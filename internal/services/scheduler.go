package services

import (
	"context"
	"time"

	"github.com/RohitKrishnan4943/ProctorVision/internal/proctor"
	"go.uber.org/zap"
)

// Sweeper disposes of session histories.
type Sweeper interface {
	Sweep(idle time.Duration) []proctor.SessionKey
}

// Scheduler periodically evicts histories of sessions that stopped sending
// signals without completing.
type Scheduler struct {
	log      *zap.Logger
	sweeper  Sweeper
	interval time.Duration
	idle     time.Duration
}

func NewScheduler(log *zap.Logger, sweeper Sweeper, interval, idle time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	return &Scheduler{
		log:      log,
		sweeper:  sweeper,
		interval: interval,
		idle:     idle,
	}
}

// Start runs the scheduler in a goroutine until ctx is done. The returned
// channel is closed when the goroutine exits.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	s.log.Info("Starting idle session sweeper...",
		zap.Duration("interval", s.interval),
		zap.Duration("idleTimeout", s.idle),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Idle session sweeper stopped")
				return
			case <-ticker.C:
				s.runSweep()
			}
		}
	}()
	return done
}

func (s *Scheduler) runSweep() {
	evicted := s.sweeper.Sweep(s.idle)
	if len(evicted) == 0 {
		return
	}
	for _, key := range evicted {
		s.log.Debug("Evicted idle session history", zap.String("session", key.String()))
	}
	s.log.Info("Idle session sweep finished", zap.Int("evicted", len(evicted)))
}
