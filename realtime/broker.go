package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("notifier closed")

// Broker is an in-process Notifier. It serves single-instance deployments and
// is the local fan-out stage of the networked notifiers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*delivery]struct{}
	closed bool
	buffer int
	log    *zap.SugaredLogger
}

func NewBroker(log *zap.SugaredLogger) *Broker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Broker{
		subs:   make(map[*delivery]struct{}),
		buffer: defaultBuffer,
		log:    log,
	}
}

func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for d := range b.subs {
		if !d.offer(e) {
			b.log.Debugw("subscriber busy, event coalesced", "table", e.Table, "key", e.Key, "type", e.Type)
		}
	}
	return nil
}

func (b *Broker) Subscribe(_ context.Context, f Filter, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.New("realtime: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	var d *delivery
	d = newDelivery(f, h, b.buffer, func() { b.remove(d) })
	b.subs[d] = struct{}{}
	return d, nil
}

func (b *Broker) remove(d *delivery) {
	b.mu.Lock()
	delete(b.subs, d)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*delivery, 0, len(b.subs))
	for d := range b.subs {
		subs = append(subs, d)
	}
	b.mu.Unlock()

	// Unsubscribe re-enters remove, so it runs outside the lock.
	for _, d := range subs {
		_ = d.Unsubscribe()
	}
	return nil
}
