// services/matchmaking.go - Team formation under a hard capacity limit
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wordduel/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Matchmaker finds or creates a team with a free slot for a player. Capacity
// is enforced by the store; the matchmaker only retries when it loses a race.
type Matchmaker struct {
	store       TeamStore
	log         *zap.SugaredLogger
	maxAttempts int
	retryDelay  time.Duration
	newID       func() string
}

type MatchmakerOption func(*Matchmaker)

func WithMaxAttempts(n int) MatchmakerOption {
	return func(m *Matchmaker) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) MatchmakerOption {
	return func(m *Matchmaker) {
		if d >= 0 {
			m.retryDelay = d
		}
	}
}

func NewMatchmaker(store TeamStore, log *zap.SugaredLogger, opts ...MatchmakerOption) *Matchmaker {
	m := &Matchmaker{
		store:       store,
		log:         log,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ================== FIND OR CREATE ==================

// FindOrCreateTeam places userID on a team at tier. It joins the most
// recently created team that still has room, or creates a new team when
// there is none. Losing the race for a last slot is retried up to the
// attempt cap, after which models.ErrMatchmakingFailed is returned. Other
// store errors are returned as they are.
func (m *Matchmaker) FindOrCreateTeam(ctx context.Context, userID, displayName string, tier models.Tier) (*models.Team, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrInvalidInput)
	}
	if _, err := models.ParseTier(string(tier)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "Player"
	}
	log := m.log.With("user_id", userID, "tier", tier)

	for attempt := 1; ; attempt++ {
		teams, err := m.store.ListTeamsByTier(ctx, tier)
		if err != nil {
			return nil, err
		}

		// A player who is already waiting on a team gets that team back.
		for i := range teams {
			if !teams[i].IsFull() && teams[i].HasMember(userID) {
				log.Infow("already on a team", "team_id", teams[i].ID)
				return &teams[i], nil
			}
		}

		candidate := firstOpenTeam(teams)
		if candidate == nil {
			return m.createTeam(ctx, userID, displayName, tier)
		}

		// The listing may be stale; ask the store directly before inserting.
		if _, err := m.store.GetMembership(ctx, candidate.ID, userID); err == nil {
			return candidate, nil
		} else if !errors.Is(err, models.ErrMembershipNotFound) {
			return nil, err
		}

		err = m.store.InsertMembership(ctx, &models.TeamMember{
			TeamID:      candidate.ID,
			UserID:      userID,
			DisplayName: displayName,
		})
		switch {
		case err == nil:
			log.Infow("joined team", "team_id", candidate.ID, "attempt", attempt)
			return candidate, nil
		case errors.Is(err, models.ErrDuplicateMembership):
			log.Infow("membership already present", "team_id", candidate.ID)
			return candidate, nil
		case errors.Is(err, models.ErrCapacityExceeded), errors.Is(err, models.ErrTeamNotFound):
			// Someone else took the last slot, or the team was cleaned up.
			if attempt >= m.maxAttempts {
				log.Warnw("matchmaking retries exhausted", "attempts", attempt)
				return nil, fmt.Errorf("%w: no free slot after %d attempts", models.ErrMatchmakingFailed, attempt)
			}
			log.Debugw("lost race for slot, retrying", "team_id", candidate.ID, "attempt", attempt)
			if err := sleepCtx(ctx, m.retryDelay); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}
}

func firstOpenTeam(teams []models.Team) *models.Team {
	for i := range teams {
		if !teams[i].IsFull() {
			return &teams[i]
		}
	}
	return nil
}

// createTeam is not retried: any failure goes straight back to the caller.
func (m *Matchmaker) createTeam(ctx context.Context, userID, displayName string, tier models.Tier) (*models.Team, error) {
	team := &models.Team{
		ID:         m.newID(),
		Name:       displayName + "'s team",
		Tier:       tier,
		MaxMembers: models.TeamCapacity,
		CreatedBy:  userID,
	}
	creator := &models.TeamMember{
		UserID:      userID,
		DisplayName: displayName,
		IsReady:     true,
	}
	if err := m.store.CreateTeam(ctx, team, creator); err != nil {
		return nil, err
	}
	team.Members = []models.TeamMember{*creator}
	m.log.Infow("created team", "team_id", team.ID, "user_id", userID, "tier", tier)
	return team, nil
}

// ================== LEAVE ==================

// Leave removes userID from teamID. It never fails: errors are logged and
// swallowed because leaving is cleanup.
func (m *Matchmaker) Leave(ctx context.Context, teamID, userID string) {
	if teamID == "" || userID == "" {
		return
	}
	if err := m.store.DeleteMembership(ctx, teamID, userID); err != nil {
		m.log.Warnw("leave team failed", "team_id", teamID, "user_id", userID, "error", err)
		return
	}
	m.log.Infow("left team", "team_id", teamID, "user_id", userID)
}

// ToggleReady flips the caller's ready flag on teamID.
func (m *Matchmaker) ToggleReady(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	return m.store.ToggleReady(ctx, teamID, userID)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
