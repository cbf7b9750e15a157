// services/lobby.go - Waiting room: matchmaking, live roster, quiz hand-off
package services

import (
	"context"
	"sync"
	"time"

	"wordduel/models"
	"wordduel/realtime"

	"go.uber.org/zap"
)

const DefaultStartGrace = 1500 * time.Millisecond

// Handoff tells the client which session to play once the team is complete.
type Handoff struct {
	TeamID    string `json:"team_id"`
	SessionID string `json:"session_id"`
}

// LobbyListener receives lobby progress. Nil callbacks are skipped. Callbacks
// may run on different goroutines but never concurrently with each other.
type LobbyListener struct {
	OnTeam    func(team *models.Team)
	OnMembers func(members []models.TeamMember, status TeamStatus)
	OnStart   func(h Handoff)
	OnError   func(err error)
}

type LobbyService struct {
	matchmaker *Matchmaker
	watcher    *TeamWatcher
	sessions   *QuizSessionCoordinator
	grace      time.Duration
	log        *zap.SugaredLogger
}

func NewLobbyService(mm *Matchmaker, w *TeamWatcher, sessions *QuizSessionCoordinator, grace time.Duration, log *zap.SugaredLogger) *LobbyService {
	if grace < 0 {
		grace = DefaultStartGrace
	}
	return &LobbyService{matchmaker: mm, watcher: w, sessions: sessions, grace: grace, log: log}
}

// Lobby is one player's stay in the waiting room.
type Lobby struct {
	svc      *LobbyService
	team     *models.Team
	userID   string
	guard    *LeaveGuard
	listener LobbyListener
	log      *zap.SugaredLogger

	cbMu sync.Mutex

	mu      sync.Mutex
	sub     realtime.Subscription
	timer   *time.Timer
	started bool
	closed  bool
}

// Enter matchmakes userID into a team at tier and starts watching it. When
// the roster reaches capacity the lobby waits out the grace period, then
// commits the player and calls OnStart. Close must be called when the client
// goes away.
func (s *LobbyService) Enter(ctx context.Context, userID, displayName string, tier models.Tier, listener LobbyListener) (*Lobby, error) {
	team, err := s.matchmaker.FindOrCreateTeam(ctx, userID, displayName, tier)
	if err != nil {
		return nil, err
	}

	l := &Lobby{
		svc:      s,
		team:     team,
		userID:   userID,
		guard:    NewLeaveGuard(s.matchmaker, team.ID, userID),
		listener: listener,
		log:      s.log.With("team_id", team.ID, "user_id", userID),
	}
	l.emit(func() {
		if listener.OnTeam != nil {
			listener.OnTeam(team)
		}
	})

	sub, err := s.watcher.Watch(ctx, team.ID, l.onMembers)
	if err != nil {
		l.guard.Leave(context.WithoutCancel(ctx))
		return nil, err
	}

	// The eager fetch may already have completed the team and, with a short
	// grace, even handed off.
	l.mu.Lock()
	done := l.closed || l.started
	if !done {
		l.sub = sub
	}
	l.mu.Unlock()
	if done {
		_ = sub.Unsubscribe()
	}
	return l, nil
}

func (l *Lobby) Team() *models.Team {
	return l.team
}

func (l *Lobby) Guard() *LeaveGuard {
	return l.guard
}

func (l *Lobby) emit(fn func()) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	fn()
}

func (l *Lobby) onMembers(members []models.TeamMember) {
	status := DeriveStatus(members, l.team.Capacity())
	l.emit(func() {
		if l.listener.OnMembers != nil {
			l.listener.OnMembers(members, status)
		}
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.started {
		return
	}
	if !hasMember(members, l.userID) {
		// Removed behind our back, e.g. by the abandonment sweep.
		l.log.Warnw("membership gone while waiting", "count", len(members))
		l.closed = true
		if l.timer != nil {
			l.timer.Stop()
		}
		go l.lost()
		return
	}
	switch {
	case status.Ready() && l.timer == nil:
		l.log.Infow("team complete, starting after grace", "grace", l.svc.grace)
		l.timer = time.AfterFunc(l.svc.grace, l.start)
	case !status.Ready() && l.timer != nil:
		// Someone left during the grace period.
		if l.timer.Stop() {
			l.timer = nil
			l.log.Infow("team no longer complete, start postponed", "count", status.Count)
		}
	}
}

func (l *Lobby) start() {
	l.mu.Lock()
	if l.closed || l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
	defer cancel()

	session, err := l.svc.sessions.EnsureTeamSession(ctx, l.team.ID)
	if err != nil {
		l.log.Errorw("team session unavailable", "error", err)
		l.guard.Leave(ctx)
		l.emit(func() {
			if l.listener.OnError != nil {
				l.listener.OnError(err)
			}
		})
		return
	}

	if !l.guard.Commit() {
		return
	}
	l.log.Infow("handing off to quiz", "session_id", session.ID)
	l.emit(func() {
		if l.listener.OnStart != nil {
			l.listener.OnStart(Handoff{TeamID: l.team.ID, SessionID: session.ID})
		}
	})
	l.stopWatching()
}

// lost reports a vanished membership. It runs off the subscription's
// goroutine because unsubscribing from inside a snapshot callback would block.
func (l *Lobby) lost() {
	l.stopWatching()
	l.emit(func() {
		if l.listener.OnError != nil {
			l.listener.OnError(models.ErrMembershipNotFound)
		}
	})
}

func hasMember(members []models.TeamMember, userID string) bool {
	for _, m := range members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (l *Lobby) stopWatching() {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// ToggleReady flips the player's ready flag.
func (l *Lobby) ToggleReady(ctx context.Context) (*models.TeamMember, error) {
	return l.svc.matchmaker.ToggleReady(ctx, l.team.ID, l.userID)
}

// Cancel leaves the team on the player's request. Once the quiz has been
// handed off it returns models.ErrAlreadyStarted and the player stays.
func (l *Lobby) Cancel(ctx context.Context) error {
	l.halt()
	if l.guard.Teardown(ctx) {
		return nil
	}
	if l.guard.Committed() {
		return models.ErrAlreadyStarted
	}
	return nil
}

// Close releases the lobby. Before the hand-off it also leaves the team.
// Safe to call more than once.
func (l *Lobby) Close(ctx context.Context) {
	l.halt()
	l.guard.Teardown(ctx)
}

func (l *Lobby) halt() {
	l.mu.Lock()
	l.closed = true
	if l.timer != nil && !l.started {
		l.timer.Stop()
	}
	l.mu.Unlock()
	l.stopWatching()
}
