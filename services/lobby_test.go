package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"wordduel/database"
	"wordduel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lobbyHarness struct {
	lobbies  *LobbyService
	mm       *Matchmaker
	sessions *QuizSessionCoordinator
	teams    TeamStore
	store    *database.Store
}

func newLobbyHarness(t *testing.T, grace time.Duration) *lobbyHarness {
	t.Helper()
	store, broker := newSQLiteStore(t)
	mm := NewMatchmaker(store, nopLog, WithRetryDelay(0))
	sessions := NewQuizSessionCoordinator(store, broker, nopLog)
	return &lobbyHarness{
		lobbies:  NewLobbyService(mm, NewTeamWatcher(store, broker, nopLog), sessions, grace, nopLog),
		mm:       mm,
		sessions: sessions,
		teams:    store,
		store:    store,
	}
}

type recordingListener struct {
	teams   chan *models.Team
	members chan TeamStatus
	starts  chan Handoff
	errs    chan error
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		teams:   make(chan *models.Team, 4),
		members: make(chan TeamStatus, 32),
		starts:  make(chan Handoff, 4),
		errs:    make(chan error, 4),
	}
}

func (r *recordingListener) listener() LobbyListener {
	return LobbyListener{
		OnTeam:    func(t *models.Team) { r.teams <- t },
		OnMembers: func(_ []models.TeamMember, st TeamStatus) { r.members <- st },
		OnStart:   func(h Handoff) { r.starts <- h },
		OnError:   func(err error) { r.errs <- err },
	}
}

func (r *recordingListener) waitStart(t *testing.T) Handoff {
	t.Helper()
	select {
	case h := <-r.starts:
		return h
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for quiz start")
		return Handoff{}
	}
}

func (r *recordingListener) waitCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-r.members:
			if st.Count == n {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d members", n)
		}
	}
}

func (h *lobbyHarness) fill(t *testing.T, from int) {
	t.Helper()
	for i := from; i < models.TeamCapacity; i++ {
		u := fmt.Sprintf("p%d", i)
		_, err := h.mm.FindOrCreateTeam(context.Background(), u, u, models.TierBeginner)
		require.NoError(t, err)
	}
}

func TestLobbyHandsOffWhenTeamFills(t *testing.T) {
	h := newLobbyHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	rec := newRecordingListener()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, rec.listener())
	require.NoError(t, err)
	defer lobby.Close(ctx)

	team := <-rec.teams
	assert.Equal(t, lobby.Team().ID, team.ID)
	rec.waitCount(t, 1)

	h.fill(t, 1)
	handoff := rec.waitStart(t)
	assert.Equal(t, team.ID, handoff.TeamID)
	assert.Equal(t, models.TeamSessionID(team.ID), handoff.SessionID)
	assert.True(t, lobby.Guard().Committed())

	_, err = h.sessions.Get(ctx, handoff.SessionID)
	require.NoError(t, err)

	// After the hand-off the player stays on the team.
	assert.ErrorIs(t, lobby.Cancel(ctx), models.ErrAlreadyStarted)
	lobby.Close(ctx)
	_, err = h.teams.GetMembership(ctx, team.ID, "alice")
	assert.NoError(t, err)
}

func TestEveryLobbyOfATeamGetsTheSameSession(t *testing.T) {
	h := newLobbyHarness(t, 10*time.Millisecond)
	ctx := context.Background()

	recs := make([]*recordingListener, models.TeamCapacity)
	for i := range recs {
		recs[i] = newRecordingListener()
		u := fmt.Sprintf("p%d", i)
		lobby, err := h.lobbies.Enter(ctx, u, u, models.TierBeginner, recs[i].listener())
		require.NoError(t, err)
		defer lobby.Close(ctx)
	}

	first := recs[0].waitStart(t)
	for _, rec := range recs[1:] {
		assert.Equal(t, first, rec.waitStart(t))
	}
}

func TestLobbyCancelLeavesTeam(t *testing.T) {
	h := newLobbyHarness(t, 10*time.Millisecond)
	ctx := context.Background()
	rec := newRecordingListener()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, rec.listener())
	require.NoError(t, err)
	teamID := lobby.Team().ID

	require.NoError(t, lobby.Cancel(ctx))
	require.NoError(t, lobby.Cancel(ctx))
	lobby.Close(ctx)

	_, err = h.teams.GetMembership(ctx, teamID, "alice")
	assert.ErrorIs(t, err, models.ErrMembershipNotFound)
}

func TestLobbyCloseBeforeStartLeavesTeam(t *testing.T) {
	h := newLobbyHarness(t, time.Hour)
	ctx := context.Background()
	rec := newRecordingListener()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, rec.listener())
	require.NoError(t, err)
	teamID := lobby.Team().ID

	h.fill(t, 1)
	rec.waitCount(t, models.TeamCapacity)
	lobby.Close(ctx)

	_, err = h.teams.GetMembership(ctx, teamID, "alice")
	assert.ErrorIs(t, err, models.ErrMembershipNotFound)
	select {
	case hand := <-rec.starts:
		t.Fatalf("unexpected start: %+v", hand)
	default:
	}
}

func TestLobbyPostponesStartWhenSomeoneLeaves(t *testing.T) {
	h := newLobbyHarness(t, 300*time.Millisecond)
	ctx := context.Background()
	rec := newRecordingListener()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, rec.listener())
	require.NoError(t, err)
	defer lobby.Close(ctx)

	h.fill(t, 1)
	h.mm.Leave(ctx, lobby.Team().ID, "p3")
	rec.waitCount(t, models.TeamCapacity-1)

	select {
	case hand := <-rec.starts:
		t.Fatalf("started with an incomplete team: %+v", hand)
	case <-time.After(500 * time.Millisecond):
	}
	assert.False(t, lobby.Guard().Committed())
}

func TestLobbyToggleReady(t *testing.T) {
	h := newLobbyHarness(t, time.Hour)
	ctx := context.Background()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, LobbyListener{})
	require.NoError(t, err)
	defer lobby.Close(ctx)

	m, err := lobby.ToggleReady(ctx)
	require.NoError(t, err)
	// The creator starts ready.
	assert.False(t, m.IsReady)
}

func TestLobbyEnterPropagatesMatchmakingError(t *testing.T) {
	h := newLobbyHarness(t, time.Hour)
	_, err := h.lobbies.Enter(context.Background(), "", "x", models.TierBeginner, LobbyListener{})
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
}

func TestLobbyReportsSweptTeam(t *testing.T) {
	h := newLobbyHarness(t, time.Hour)
	ctx := context.Background()
	rec := newRecordingListener()

	lobby, err := h.lobbies.Enter(ctx, "alice", "Alice", models.TierBeginner, rec.listener())
	require.NoError(t, err)
	defer lobby.Close(ctx)
	rec.waitCount(t, 1)

	n, err := h.store.DeleteStaleTeams(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case err := <-rec.errs:
		assert.ErrorIs(t, err, models.ErrMembershipNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("swept lobby did not report an error")
	}
	assert.False(t, lobby.Guard().Committed())
}
