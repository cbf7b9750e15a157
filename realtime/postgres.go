package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const DefaultChannelPrefix = "wordduel"

var pgTables = []string{TableTeams, TableTeamMembers, TableSessionParticipants}

// PGNotifier uses Postgres LISTEN/NOTIFY as the change feed, so every server
// sharing the database sees every write without extra infrastructure.
type PGNotifier struct {
	db       *sql.DB
	listener *pq.Listener
	local    *Broker
	prefix   string
	log      *zap.SugaredLogger

	mu        sync.Mutex
	listening map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewPGNotifier publishes through db and listens on a dedicated lib/pq
// connection opened from dsn.
func NewPGNotifier(db *sql.DB, dsn, prefix string, log *zap.SugaredLogger) (*PGNotifier, error) {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	n := &PGNotifier{
		db:        db,
		local:     NewBroker(log),
		prefix:    prefix,
		log:       log,
		listening: make(map[string]bool),
		stop:      make(chan struct{}),
	}
	n.listener = pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, n.onListenerEvent)
	if err := waitConnected(n.listener, listenerConnectTimeout); err != nil {
		_ = n.listener.Close()
		return nil, fmt.Errorf("listener ping: %w", err)
	}

	n.wg.Add(1)
	go n.loop()
	return n, nil
}

const listenerConnectTimeout = 5 * time.Second

// waitConnected polls until the listener's first connection is up. The
// listener dials in the background, so Ping fails until then.
func waitConnected(l *pq.Listener, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := l.Ping()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (n *PGNotifier) channel(table string) string {
	return n.prefix + "_" + table
}

func (n *PGNotifier) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		n.log.Warnw("change feed listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		n.log.Infow("change feed listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		n.log.Warnw("change feed listener reconnect failed", "error", err)
	}
}

func (n *PGNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stop:
			return
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established and
			// notifications may have been lost.
			if note == nil {
				_ = n.local.Publish(context.Background(), Event{Type: EventResync, At: time.Now().UTC()})
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(note.Extra), &e); err != nil {
				n.log.Warnw("discarding malformed change event", "channel", note.Channel, "error", err)
				continue
			}
			_ = n.local.Publish(context.Background(), e)
		}
	}
}

func (n *PGNotifier) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.channel(e.Table), string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (n *PGNotifier) ensureListening(table string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := n.channel(table)
	if n.listening[ch] {
		return nil
	}
	if err := n.listener.Listen(ch); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return fmt.Errorf("listen %s: %w", ch, err)
	}
	n.listening[ch] = true
	return nil
}

func (n *PGNotifier) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	tables := []string{f.Table}
	if f.Table == "" {
		tables = pgTables
	}
	for _, t := range tables {
		if err := n.ensureListening(t); err != nil {
			return nil, err
		}
	}
	return n.local.Subscribe(ctx, f, h)
}

func (n *PGNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.stop)
		err = n.listener.Close()
		n.wg.Wait()
		_ = n.local.Close()
	})
	return err
}
