// Package realtime carries "something changed" signals from the store to
// watchers. Events never carry row data: receivers refetch.
package realtime

import (
	"context"
	"time"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	// EventResync is emitted when a backend may have missed events, e.g. after
	// a dropped LISTEN connection. Every subscriber receives it.
	EventResync EventType = "RESYNC"
)

// Tables that emit events.
const (
	TableTeamMembers         = "team_members"
	TableSessionParticipants = "session_participants"
	TableTeams               = "teams"
)

type Event struct {
	Table string    `json:"table"`
	Type  EventType `json:"type"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
}

// Filter selects events for one table and, optionally, one key
// (team id for team_members, session id for session_participants).
type Filter struct {
	Table string
	Key   string
}

func (f Filter) Matches(e Event) bool {
	if e.Type == EventResync {
		return true
	}
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	return f.Key == "" || f.Key == e.Key
}

type Handler func(Event)

type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is a no-op.
	Unsubscribe() error
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Notifier interface {
	Publisher
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Close() error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
