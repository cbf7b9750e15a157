package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const DefaultSubjectPrefix = "wordduel.changes"

// NATSNotifier fans events out across server instances over core NATS.
// Subjects are <prefix>.<table>.<key>.
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
	ownsNC bool
	log    *zap.SugaredLogger

	mu     sync.Mutex
	subs   map[*natsSubscription]struct{}
	closed bool
}

type natsSubscription struct {
	sub   *nats.Subscription
	d     *delivery
	owner *NATSNotifier
	once  sync.Once
}

// NewNATSNotifier connects to url. Close drains the connection. Core NATS
// drops messages published while the connection is down, so every reconnect
// is followed by a RESYNC to all local subscribers.
func NewNATSNotifier(url, prefix string, log *zap.SugaredLogger, opts ...nats.Option) (*NATSNotifier, error) {
	opts = append([]nats.Option{
		nats.Name("wordduel-realtime"),
		nats.MaxReconnects(-1),
	}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	n := NewNATSNotifierFromConn(nc, prefix, log)
	n.ownsNC = true
	nc.SetDisconnectErrHandler(func(_ *nats.Conn, err error) {
		n.log.Warnw("nats disconnected", "error", err)
	})
	nc.SetReconnectHandler(func(c *nats.Conn) {
		n.log.Infow("nats reconnected", "url", c.ConnectedUrl())
		n.Resync()
	})
	return n, nil
}

// NewNATSNotifierFromConn wraps an existing connection without taking ownership.
func NewNATSNotifierFromConn(nc *nats.Conn, prefix string, log *zap.SugaredLogger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NATSNotifier{
		nc:     nc,
		prefix: prefix,
		log:    log,
		subs:   make(map[*natsSubscription]struct{}),
	}
}

func (n *NATSNotifier) subject(table, key string) string {
	if table == "" {
		table = "*"
	}
	if key == "" {
		return n.prefix + "." + table + ".>"
	}
	return n.prefix + "." + table + "." + sanitizeToken(key)
}

func (n *NATSNotifier) resyncSubject() string {
	return n.prefix + "._resync"
}

// sanitizeToken keeps a key inside a single subject token.
func sanitizeToken(s string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

func (n *NATSNotifier) Publish(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subj := n.subject(e.Table, e.Key)
	if e.Type == EventResync {
		subj = n.resyncSubject()
	}
	if err := n.nc.Publish(subj, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subj, err)
	}
	return nil
}

func (n *NATSNotifier) Subscribe(_ context.Context, f Filter, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.New("realtime: nil handler")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	ns := &natsSubscription{owner: n}
	ns.d = newDelivery(f, h, defaultBuffer, nil)

	onMsg := func(m *nats.Msg) {
		var e Event
		if err := json.Unmarshal(m.Data, &e); err != nil {
			n.log.Warnw("discarding malformed change event", "subject", m.Subject, "error", err)
			return
		}
		if !ns.d.offer(e) {
			n.log.Debugw("subscriber busy, event coalesced", "subject", m.Subject)
		}
	}

	// Resyncs travel on their own subject, which no table pattern matches.
	sub, err := n.nc.Subscribe(n.subject(f.Table, f.Key), onMsg)
	if err != nil {
		_ = ns.d.Unsubscribe()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	resync, err := n.nc.Subscribe(n.resyncSubject(), onMsg)
	if err != nil {
		_ = sub.Unsubscribe()
		_ = ns.d.Unsubscribe()
		return nil, fmt.Errorf("subscribe resync: %w", err)
	}
	ns.sub = sub
	ns.d.onStop = func() { _ = resync.Unsubscribe() }

	// Interest must be registered server-side before we return.
	if err := n.nc.Flush(); err != nil {
		_ = ns.unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	n.subs[ns] = struct{}{}
	return ns, nil
}

func (s *natsSubscription) Unsubscribe() error {
	err := s.unsubscribe()
	s.owner.mu.Lock()
	delete(s.owner.subs, s)
	s.owner.mu.Unlock()
	return err
}

func (s *natsSubscription) unsubscribe() error {
	var err error
	s.once.Do(func() {
		if s.sub != nil {
			if uerr := s.sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) && !errors.Is(uerr, nats.ErrBadSubscription) {
				err = uerr
			}
		}
		_ = s.d.Unsubscribe()
	})
	return err
}

// Resync asks every local subscriber to refetch. Callers that pass their own
// connection to NewNATSNotifierFromConn should call it from their reconnect
// handler.
func (n *NATSNotifier) Resync() {
	n.mu.Lock()
	subs := make([]*natsSubscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	e := Event{Type: EventResync, At: time.Now().UTC()}
	for _, s := range subs {
		s.d.offer(e)
	}
}

func (n *NATSNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	subs := make([]*natsSubscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.subs = map[*natsSubscription]struct{}{}
	n.mu.Unlock()

	for _, s := range subs {
		_ = s.unsubscribe()
	}
	if n.ownsNC {
		return n.nc.Drain()
	}
	return nil
}
