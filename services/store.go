package services

import (
	"context"
	"time"

	"wordduel/models"
)

// TeamStore is the shared store as seen by matchmaking. InsertMembership is
// the only place capacity is enforced: it must fail with
// models.ErrCapacityExceeded or models.ErrDuplicateMembership rather than
// accept a fifth member or a second row for the same user.
type TeamStore interface {
	ListTeamsByTier(ctx context.Context, tier models.Tier) ([]models.Team, error)
	GetTeam(ctx context.Context, teamID string) (*models.Team, error)
	CreateTeam(ctx context.Context, team *models.Team, creator *models.TeamMember) error
	InsertMembership(ctx context.Context, m *models.TeamMember) error
	GetMembership(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
	DeleteMembership(ctx context.Context, teamID, userID string) error
	ListMembers(ctx context.Context, teamID string) ([]models.TeamMember, error)
	ToggleReady(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
}

// SessionStore holds quiz sessions and their participants.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.QuizSession) error
	EnsureSession(ctx context.Context, s *models.QuizSession) error
	GetSession(ctx context.Context, sessionID string) (*models.QuizSession, error)
	InsertParticipant(ctx context.Context, p *models.SessionParticipant) error
	GetParticipant(ctx context.Context, sessionID, userID string) (*models.SessionParticipant, error)
	// UpdateScore raises the participant's score to score in one atomic
	// statement. It never lowers it.
	UpdateScore(ctx context.Context, sessionID, userID string, score int) error
	// ListParticipants returns participants in first-seen order.
	ListParticipants(ctx context.Context, sessionID string) ([]models.SessionParticipant, error)
}

type MaintenanceStore interface {
	DeleteStaleTeams(ctx context.Context, createdBefore time.Time) (int, error)
	DeleteStaleSessions(ctx context.Context, createdBefore time.Time) (int, error)
}

type Store interface {
	TeamStore
	SessionStore
	MaintenanceStore
}
