package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wordduel/models"
	"wordduel/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(sqlite.Open("file::memory:"), logger.Silent)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, zap.NewNop().Sugar()))
	t.Cleanup(func() { _ = Close(db) })
	return db
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) snapshot() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

func newTestStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewStore(newTestDB(t), pub, zap.NewNop().Sugar()), pub
}

func createTeam(t *testing.T, s *Store, id string, tier models.Tier, creator string) *models.Team {
	t.Helper()
	team := &models.Team{ID: id, Name: creator + "'s team", Tier: tier, CreatedBy: creator}
	require.NoError(t, s.CreateTeam(context.Background(), team, &models.TeamMember{UserID: creator, DisplayName: creator, IsReady: true}))
	return team
}

func TestCreateTeamInsertsCreatorMembership(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	team := createTeam(t, s, "team-1", models.TierBeginner, "alice")
	assert.Equal(t, models.TeamCapacity, team.MaxMembers)

	members, err := s.ListMembers(ctx, "team-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].UserID)
	assert.True(t, members[0].IsReady)

	var sawMemberInsert bool
	for _, e := range pub.snapshot() {
		if e.Table == realtime.TableTeamMembers && e.Key == "team-1" && e.Type == realtime.EventInsert {
			sawMemberInsert = true
		}
	}
	assert.True(t, sawMemberInsert)
}

func TestListTeamsByTierNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	createTeam(t, s, "old", models.TierIntermediate, "a")
	time.Sleep(5 * time.Millisecond)
	createTeam(t, s, "new", models.TierIntermediate, "b")
	createTeam(t, s, "other-tier", models.TierAdvanced, "c")

	teams, err := s.ListTeamsByTier(ctx, models.TierIntermediate)
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, "new", teams[0].ID)
	assert.Equal(t, "old", teams[1].ID)
	assert.Len(t, teams[0].Members, 1)
}

func TestInsertMembershipEnforcesCapacity(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTeam(t, s, "team-1", models.TierBeginner, "u0")

	for i := 1; i < models.TeamCapacity; i++ {
		require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: fmt.Sprintf("u%d", i)}))
	}

	err := s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "late"})
	require.ErrorIs(t, err, models.ErrCapacityExceeded)

	members, err := s.ListMembers(ctx, "team-1")
	require.NoError(t, err)
	assert.Len(t, members, models.TeamCapacity)
}

func TestInsertMembershipRejectsDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTeam(t, s, "team-1", models.TierBeginner, "alice")

	require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "bob"}))
	err := s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "bob"})
	require.ErrorIs(t, err, models.ErrDuplicateMembership)

	err = s.InsertMembership(ctx, &models.TeamMember{TeamID: "missing", UserID: "bob"})
	require.ErrorIs(t, err, models.ErrTeamNotFound)
}

func TestInsertMembershipConcurrentLastSlot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTeam(t, s, "team-1", models.TierBeginner, "u0")
	require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "u1"}))
	require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "u2"}))

	var mu sync.Mutex
	var ok, rejected int
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		userID := fmt.Sprintf("racer-%d", i)
		g.Go(func() error {
			err := s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: userID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, models.ErrCapacityExceeded):
				rejected++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, ok)
	assert.Equal(t, 5, rejected)
}

func TestDeleteMembershipIsIdempotent(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()
	createTeam(t, s, "team-1", models.TierBeginner, "alice")
	require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "bob"}))

	before := len(pub.snapshot())
	require.NoError(t, s.DeleteMembership(ctx, "team-1", "bob"))
	require.NoError(t, s.DeleteMembership(ctx, "team-1", "bob"))
	require.NoError(t, s.DeleteMembership(ctx, "nope", "nobody"))
	assert.Len(t, pub.snapshot(), before+1, "only the real delete is announced")

	_, err := s.GetMembership(ctx, "team-1", "bob")
	require.ErrorIs(t, err, models.ErrMembershipNotFound)
}

func TestToggleReady(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	createTeam(t, s, "team-1", models.TierBeginner, "alice")
	require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "team-1", UserID: "bob"}))

	m, err := s.ToggleReady(ctx, "team-1", "bob")
	require.NoError(t, err)
	assert.True(t, m.IsReady)

	m, err = s.ToggleReady(ctx, "team-1", "bob")
	require.NoError(t, err)
	assert.False(t, m.IsReady)

	_, err = s.ToggleReady(ctx, "team-1", "carol")
	require.ErrorIs(t, err, models.ErrMembershipNotFound)
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	teamID := "team-1"

	first := &models.QuizSession{ID: models.TeamSessionID(teamID), TeamID: &teamID}
	require.NoError(t, s.EnsureSession(ctx, first))
	second := &models.QuizSession{ID: models.TeamSessionID(teamID), TeamID: &teamID}
	require.NoError(t, s.EnsureSession(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	assert.True(t, second.IsTeamSession())
}

func TestUpdateScoreNeverDecreases(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &models.QuizSession{ID: "session_x"}))
	require.NoError(t, s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_x", UserID: "alice"}))

	require.NoError(t, s.UpdateScore(ctx, "session_x", "alice", 300))
	require.NoError(t, s.UpdateScore(ctx, "session_x", "alice", 100))

	p, err := s.GetParticipant(ctx, "session_x", "alice")
	require.NoError(t, err)
	assert.Equal(t, 300, p.Score)

	err = s.UpdateScore(ctx, "session_x", "ghost", 100)
	require.ErrorIs(t, err, models.ErrParticipantNotFound)
}

func TestUpdateScoreConcurrentSameUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &models.QuizSession{ID: "session_x"}))
	require.NoError(t, s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_x", UserID: "alice"}))

	var g errgroup.Group
	for _, score := range []int{100, 100, 200, 100} {
		score := score
		g.Go(func() error { return s.UpdateScore(ctx, "session_x", "alice", score) })
	}
	require.NoError(t, g.Wait())

	p, err := s.GetParticipant(ctx, "session_x", "alice")
	require.NoError(t, err)
	assert.Equal(t, 200, p.Score)
}

func TestInsertParticipant(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "missing", UserID: "alice"})
	require.ErrorIs(t, err, models.ErrSessionNotFound)

	require.NoError(t, s.CreateSession(ctx, &models.QuizSession{ID: "session_x"}))
	require.NoError(t, s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_x", UserID: "alice"}))
	require.NoError(t, s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_x", UserID: "bob"}))
	err = s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_x", UserID: "alice"})
	require.ErrorIs(t, err, models.ErrDuplicateParticipant)

	ps, err := s.ListParticipants(ctx, "session_x")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "alice", ps[0].UserID)
	assert.Equal(t, "bob", ps[1].UserID)
	assert.Less(t, ps[0].ID, ps[1].ID)
}

func TestDeleteStaleTeamsKeepsFullTeams(t *testing.T) {
	s, pub := newTestStore(t)
	ctx := context.Background()

	createTeam(t, s, "abandoned", models.TierBeginner, "a")
	createTeam(t, s, "full", models.TierBeginner, "f0")
	for i := 1; i < models.TeamCapacity; i++ {
		require.NoError(t, s.InsertMembership(ctx, &models.TeamMember{TeamID: "full", UserID: fmt.Sprintf("f%d", i)}))
	}

	n, err := s.DeleteStaleTeams(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetTeam(ctx, "abandoned")
	require.ErrorIs(t, err, models.ErrTeamNotFound)
	full, err := s.GetTeam(ctx, "full")
	require.NoError(t, err)
	assert.Len(t, full.Members, models.TeamCapacity)

	last := pub.snapshot()[len(pub.snapshot())-1]
	assert.Equal(t, realtime.EventDelete, last.Type)
	assert.Equal(t, "abandoned", last.Key)

	n, err = s.DeleteStaleTeams(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteStaleTeamsSparesTeamFilledDuringSweep(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db, &recordingPublisher{}, zap.NewNop().Sugar())
	ctx := context.Background()

	createTeam(t, s, "abandoned", models.TierBeginner, "a")
	createTeam(t, s, "racing", models.TierBeginner, "r0")

	// Fill "racing" right after the sweep has selected its candidates.
	var armed atomic.Bool
	var once sync.Once
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:fill_racing", func(d *gorm.DB) {
		if !armed.Load() || d.Statement.Table != "teams" {
			return
		}
		once.Do(func() {
			for i := 1; i < models.TeamCapacity; i++ {
				m := &models.TeamMember{TeamID: "racing", UserID: fmt.Sprintf("r%d", i), JoinedAt: time.Now().UTC()}
				if err := d.Session(&gorm.Session{NewDB: true}).Create(m).Error; err != nil {
					_ = d.AddError(err)
				}
			}
		})
	}))
	armed.Store(true)

	n, err := s.DeleteStaleTeams(ctx, time.Now().Add(time.Minute))
	armed.Store(false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetTeam(ctx, "abandoned")
	require.ErrorIs(t, err, models.ErrTeamNotFound)
	members, err := s.ListMembers(ctx, "racing")
	require.NoError(t, err)
	assert.Len(t, members, models.TeamCapacity)
}

func TestDeleteStaleSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &models.QuizSession{ID: "session_old"}))
	require.NoError(t, s.InsertParticipant(ctx, &models.SessionParticipant{SessionID: "session_old", UserID: "alice"}))

	n, err := s.DeleteStaleSessions(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetSession(ctx, "session_old")
	require.ErrorIs(t, err, models.ErrSessionNotFound)
	ps, err := s.ListParticipants(ctx, "session_old")
	require.NoError(t, err)
	assert.Empty(t, ps)
}
