package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wordduel/realtime"

	"go.uber.org/zap"
)

const defaultFetchTimeout = 5 * time.Second

// snapshotSubscription re-reads the full state on every change signal and
// hands it to onUpdate. Snapshots are delivered one at a time and never after
// Unsubscribe returns.
type snapshotSubscription[T any] struct {
	fetch    func(ctx context.Context) (T, error)
	onUpdate func(T)
	log      *zap.SugaredLogger
	timeout  time.Duration
	ctx      context.Context

	mu     sync.Mutex
	closed atomic.Bool
	sub    realtime.Subscription
	once   sync.Once
}

// refetchOnSignal subscribes first and then performs one eager fetch, so a
// change landing between the two is never lost.
func refetchOnSignal[T any](
	ctx context.Context,
	n realtime.Notifier,
	filter realtime.Filter,
	fetch func(ctx context.Context) (T, error),
	onUpdate func(T),
	log *zap.SugaredLogger,
) (*snapshotSubscription[T], error) {
	s := &snapshotSubscription[T]{
		fetch:    fetch,
		onUpdate: onUpdate,
		log:      log,
		timeout:  defaultFetchTimeout,
		ctx:      context.WithoutCancel(ctx),
	}

	sub, err := n.Subscribe(ctx, filter, func(e realtime.Event) {
		log.Debugw("change signal", "table", e.Table, "key", e.Key, "type", e.Type)
		s.refresh()
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub

	s.refresh()
	return s, nil
}

func (s *snapshotSubscription[T]) refresh() {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	snapshot, err := s.fetch(ctx)
	if err != nil {
		// The next signal triggers another full read.
		s.log.Warnw("snapshot refetch failed", "error", err)
		return
	}
	if s.closed.Load() {
		return
	}
	s.onUpdate(snapshot)
}

// Unsubscribe is idempotent. It waits for an in-flight delivery to finish,
// so it must not be called from inside onUpdate.
func (s *snapshotSubscription[T]) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.sub.Unsubscribe()
		// Wait out any delivery in progress.
		s.mu.Lock()
		s.mu.Unlock()
	})
	return err
}
