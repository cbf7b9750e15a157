package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupService periodically removes abandoned teams and expired sessions.
type CleanupService struct {
	store      MaintenanceStore
	log        *zap.SugaredLogger
	interval   time.Duration
	teamTTL    time.Duration
	sessionTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCleanupService(store MaintenanceStore, interval, teamTTL, sessionTTL time.Duration, log *zap.SugaredLogger) *CleanupService {
	return &CleanupService{
		store:      store,
		log:        log,
		interval:   interval,
		teamTTL:    teamTTL,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Start runs a sweep every interval until Stop. Calling Start twice is a no-op.
func (s *CleanupService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}(s.done)
	s.log.Infow("cleanup worker started", "interval", s.interval)
}

// Stop halts the worker and waits for an in-flight sweep.
func (s *CleanupService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Infow("cleanup worker stopped")
}

// RunOnce performs a single sweep. Failures are logged.
func (s *CleanupService) RunOnce(ctx context.Context) (teams, sessions int) {
	now := s.now().UTC()
	var err error
	if s.teamTTL > 0 {
		if teams, err = s.store.DeleteStaleTeams(ctx, now.Add(-s.teamTTL)); err != nil {
			s.log.Warnw("stale team cleanup failed", "error", err)
		}
	}
	if s.sessionTTL > 0 {
		if sessions, err = s.store.DeleteStaleSessions(ctx, now.Add(-s.sessionTTL)); err != nil {
			s.log.Warnw("stale session cleanup failed", "error", err)
		}
	}
	if teams > 0 || sessions > 0 {
		s.log.Infow("cleanup sweep", "teams_removed", teams, "sessions_removed", sessions)
	}
	return teams, sessions
}
