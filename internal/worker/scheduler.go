package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher renews the current session token
type Refresher interface {
	RefreshSession(ctx context.Context) error
}

// RefreshScheduler periodically renews the session token
type RefreshScheduler struct {
	sched     *cron.Cron
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRefreshScheduler registers refresher on a cron schedule such as "@every 10m"
func NewRefreshScheduler(schedule string, refresher Refresher, logger *zap.Logger) (*RefreshScheduler, error) {
	s := &RefreshScheduler{
		sched:     cron.New(),
		refresher: refresher,
		timeout:   10 * time.Second,
		logger:    logger,
	}
	if _, err := s.sched.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RefreshScheduler) run() {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error("Session refresh panicked", zap.Any("panic", err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.refresher.RefreshSession(ctx); err != nil {
		s.logger.Warn("Session refresh failed", zap.Error(err))
	}
}

// Start starts the scheduler
func (s *RefreshScheduler) Start() {
	s.sched.Start()
}

// Stop stops the scheduler and waits for a running refresh to finish
func (s *RefreshScheduler) Stop() {
	<-s.sched.Stop().Done()
}
