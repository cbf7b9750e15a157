// services/quiz_session.go - Quiz session scoring and live ranking
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wordduel/models"
	"wordduel/realtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuizSessionCoordinator creates and joins sessions, writes scores and
// streams rankings.
type QuizSessionCoordinator struct {
	store    SessionStore
	notifier realtime.Notifier
	log      *zap.SugaredLogger
	newID    func() string
}

func NewQuizSessionCoordinator(store SessionStore, notifier realtime.Notifier, log *zap.SugaredLogger) *QuizSessionCoordinator {
	return &QuizSessionCoordinator{
		store:    store,
		notifier: notifier,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Create starts a solo session with a fresh id.
func (c *QuizSessionCoordinator) Create(ctx context.Context) (*models.QuizSession, error) {
	s := &models.QuizSession{ID: models.SoloSessionID(c.newID())}
	if err := c.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	c.log.Infow("session created", "session_id", s.ID)
	return s, nil
}

// EnsureTeamSession returns the session shared by all members of teamID,
// creating it on first use. Every member derives the same id, so whichever
// member arrives first creates it.
func (c *QuizSessionCoordinator) EnsureTeamSession(ctx context.Context, teamID string) (*models.QuizSession, error) {
	if teamID == "" {
		return nil, fmt.Errorf("%w: team id is required", models.ErrInvalidInput)
	}
	tid := teamID
	s := &models.QuizSession{ID: models.TeamSessionID(teamID), TeamID: &tid}
	if err := c.store.EnsureSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *QuizSessionCoordinator) Get(ctx context.Context, sessionID string) (*models.QuizSession, error) {
	return c.store.GetSession(ctx, sessionID)
}

// Join adds userID to the session. Joining twice returns the existing row.
func (c *QuizSessionCoordinator) Join(ctx context.Context, sessionID, userID, displayName string) (*models.SessionParticipant, error) {
	if sessionID == "" || userID == "" {
		return nil, fmt.Errorf("%w: session id and user id are required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "Player"
	}
	p := &models.SessionParticipant{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
	}
	err := c.store.InsertParticipant(ctx, p)
	if errors.Is(err, models.ErrDuplicateParticipant) {
		return c.store.GetParticipant(ctx, sessionID, userID)
	}
	if err != nil {
		return nil, err
	}
	c.log.Infow("joined session", "session_id", sessionID, "user_id", userID)
	return p, nil
}

// SubmitScore raises the caller's stored score to score. Failures come back
// wrapped in models.ErrScoreSubmitFailed so callers can treat them as
// non-fatal.
func (c *QuizSessionCoordinator) SubmitScore(ctx context.Context, sessionID, userID string, score int) error {
	if score < 0 {
		return fmt.Errorf("%w: score must not be negative", models.ErrInvalidInput)
	}
	if err := c.store.UpdateScore(ctx, sessionID, userID, score); err != nil {
		c.log.Warnw("score submit failed", "session_id", sessionID, "user_id", userID, "score", score, "error", err)
		return fmt.Errorf("%w: %w", models.ErrScoreSubmitFailed, err)
	}
	return nil
}

// Ranking returns the current ranked leaderboard as seen by selfID.
func (c *QuizSessionCoordinator) Ranking(ctx context.Context, sessionID, selfID string) ([]RankedPlayer, error) {
	ps, err := c.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Rank(ps, selfID), nil
}

// Watch streams the ranked leaderboard: once immediately, then after every
// participant change in the session.
func (c *QuizSessionCoordinator) Watch(ctx context.Context, sessionID, selfID string, onUpdate func([]RankedPlayer)) (realtime.Subscription, error) {
	sub, err := refetchOnSignal(ctx, c.notifier,
		realtime.Filter{Table: realtime.TableSessionParticipants, Key: sessionID},
		func(ctx context.Context) ([]RankedPlayer, error) {
			return c.Ranking(ctx, sessionID, selfID)
		},
		onUpdate,
		c.log.With("session_id", sessionID),
	)
	if err != nil {
		return nil, fmt.Errorf("watch session %s: %w", sessionID, err)
	}
	return sub, nil
}
