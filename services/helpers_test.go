package services

import (
	"context"
	"testing"

	"wordduel/database"
	"wordduel/models"
	"wordduel/realtime"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

var nopLog = zap.NewNop().Sugar()

// newSQLiteStore returns a store on a private in-memory database, publishing
// to an in-process broker.
func newSQLiteStore(t *testing.T) (*database.Store, *realtime.Broker) {
	t.Helper()
	db, err := database.Open(sqlite.Open("file::memory:"), logger.Silent)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, nopLog))
	broker := realtime.NewBroker(nopLog)
	t.Cleanup(func() {
		_ = broker.Close()
		_ = database.Close(db)
	})
	return database.NewStore(db, broker, nopLog), broker
}

type teamStoreMock struct{ mock.Mock }

var _ TeamStore = (*teamStoreMock)(nil)

func (m *teamStoreMock) ListTeamsByTier(ctx context.Context, tier models.Tier) ([]models.Team, error) {
	args := m.Called(ctx, tier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Team), args.Error(1)
}

func (m *teamStoreMock) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Team), args.Error(1)
}

func (m *teamStoreMock) CreateTeam(ctx context.Context, team *models.Team, creator *models.TeamMember) error {
	return m.Called(ctx, team, creator).Error(0)
}

func (m *teamStoreMock) InsertMembership(ctx context.Context, tm *models.TeamMember) error {
	return m.Called(ctx, tm).Error(0)
}

func (m *teamStoreMock) GetMembership(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	args := m.Called(ctx, teamID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TeamMember), args.Error(1)
}

func (m *teamStoreMock) DeleteMembership(ctx context.Context, teamID, userID string) error {
	return m.Called(ctx, teamID, userID).Error(0)
}

func (m *teamStoreMock) ListMembers(ctx context.Context, teamID string) ([]models.TeamMember, error) {
	args := m.Called(ctx, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TeamMember), args.Error(1)
}

func (m *teamStoreMock) ToggleReady(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	args := m.Called(ctx, teamID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TeamMember), args.Error(1)
}

// teamWith builds a listed team holding the given users.
func teamWith(id string, users ...string) models.Team {
	t := models.Team{ID: id, Tier: models.TierBeginner, MaxMembers: models.TeamCapacity}
	for i, u := range users {
		t.Members = append(t.Members, models.TeamMember{ID: uint(i + 1), TeamID: id, UserID: u})
	}
	return t
}

func memberOf(teamID string) interface{} {
	return mock.MatchedBy(func(m *models.TeamMember) bool { return m.TeamID == teamID })
}
