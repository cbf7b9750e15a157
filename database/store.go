// database/store.go - Shared store for teams, memberships and quiz sessions
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wordduel/models"
	"wordduel/realtime"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed shared store. Every committed row change is
// announced on the change feed after the transaction commits.
type Store struct {
	db  *gorm.DB
	pub realtime.Publisher
	log *zap.SugaredLogger
}

func NewStore(db *gorm.DB, pub realtime.Publisher, log *zap.SugaredLogger) *Store {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{db: db, pub: pub, log: log}
}

// lockRows reports whether SELECT ... FOR UPDATE is available. SQLite has no
// row locks, but its single connection already serializes transactions.
func (s *Store) lockRows() bool {
	return s.db.Dialector.Name() == "postgres"
}

func (s *Store) publish(ctx context.Context, table string, typ realtime.EventType, key string) {
	e := realtime.Event{Table: table, Type: typ, Key: key, At: time.Now().UTC()}
	if err := s.pub.Publish(context.WithoutCancel(ctx), e); err != nil {
		s.log.Warnw("change event not published", "table", table, "key", key, "type", typ, "error", err)
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// ================== TEAMS ==================

func (s *Store) ListTeamsByTier(ctx context.Context, tier models.Tier) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, id ASC")
		}).
		Where("tier = ?", tier).
		Order("created_at DESC").
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("list teams for tier %s: %w", tier, err)
	}
	return teams, nil
}

func (s *Store) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, id ASC")
		}).
		First(&team, "id = ?", teamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get team %s: %w", teamID, err)
	}
	return &team, nil
}

// CreateTeam inserts the team and its creator's membership atomically.
func (s *Store) CreateTeam(ctx context.Context, team *models.Team, creator *models.TeamMember) error {
	if team.MaxMembers <= 0 {
		team.MaxMembers = models.TeamCapacity
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Members").Create(team).Error; err != nil {
			return fmt.Errorf("create team: %w", err)
		}
		if creator == nil {
			return nil
		}
		creator.TeamID = team.ID
		if creator.JoinedAt.IsZero() {
			creator.JoinedAt = time.Now().UTC()
		}
		if err := tx.Create(creator).Error; err != nil {
			return fmt.Errorf("create creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, realtime.TableTeams, realtime.EventInsert, string(team.Tier))
	if creator != nil {
		s.publish(ctx, realtime.TableTeamMembers, realtime.EventInsert, team.ID)
	}
	return nil
}

// InsertMembership adds m to its team unless the team is full or the user
// already belongs to it. The team row is locked for the duration of the
// check so two joiners racing for the last slot cannot both pass it.
func (s *Store) InsertMembership(ctx context.Context, m *models.TeamMember) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.lockRows() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var team models.Team
		if err := q.First(&team, "id = ?", m.TeamID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrTeamNotFound
			}
			return fmt.Errorf("lock team: %w", err)
		}

		var existing int64
		if err := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND user_id = ?", m.TeamID, m.UserID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check membership: %w", err)
		}
		if existing > 0 {
			return models.ErrDuplicateMembership
		}

		var count int64
		if err := tx.Model(&models.TeamMember{}).
			Where("team_id = ?", m.TeamID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if int(count) >= team.Capacity() {
			return models.ErrCapacityExceeded
		}

		if m.JoinedAt.IsZero() {
			m.JoinedAt = time.Now().UTC()
		}
		if err := tx.Create(m).Error; err != nil {
			if isDuplicateKey(err) {
				return models.ErrDuplicateMembership
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, realtime.TableTeamMembers, realtime.EventInsert, m.TeamID)
	return nil
}

func (s *Store) GetMembership(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	var m models.TeamMember
	err := s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// DeleteMembership removes the (team, user) row. A missing row is not an error.
func (s *Store) DeleteMembership(ctx context.Context, teamID, userID string) error {
	res := s.db.WithContext(ctx).
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Delete(&models.TeamMember{})
	if res.Error != nil {
		return fmt.Errorf("delete membership: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, realtime.TableTeamMembers, realtime.EventDelete, teamID)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, teamID string) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := s.db.WithContext(ctx).
		Where("team_id = ?", teamID).
		Order("joined_at ASC, id ASC").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", teamID, err)
	}
	return members, nil
}

func (s *Store) ToggleReady(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	var m models.TeamMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.lockRows() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := q.Where("team_id = ? AND user_id = ?", teamID, userID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrMembershipNotFound
			}
			return err
		}
		m.IsReady = !m.IsReady
		return tx.Model(&m).Update("is_ready", m.IsReady).Error
	})
	if err != nil {
		if errors.Is(err, models.ErrMembershipNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("toggle ready: %w", err)
	}

	s.publish(ctx, realtime.TableTeamMembers, realtime.EventUpdate, teamID)
	return &m, nil
}

// ================== SESSIONS ==================

func (s *Store) CreateSession(ctx context.Context, qs *models.QuizSession) error {
	if err := s.db.WithContext(ctx).Create(qs).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// EnsureSession inserts qs unless a session with the same id exists, then
// loads the stored row into qs.
func (s *Store) EnsureSession(ctx context.Context, qs *models.QuizSession) error {
	db := s.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(qs).Error; err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	if err := db.First(qs, "id = ?", qs.ID).Error; err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.QuizSession, error) {
	var qs models.QuizSession
	err := s.db.WithContext(ctx).First(&qs, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &qs, nil
}

func (s *Store) InsertParticipant(ctx context.Context, p *models.SessionParticipant) error {
	if _, err := s.GetSession(ctx, p.SessionID); err != nil {
		return err
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isDuplicateKey(err) {
			return models.ErrDuplicateParticipant
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	s.publish(ctx, realtime.TableSessionParticipants, realtime.EventInsert, p.SessionID)
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, sessionID, userID string) (*models.SessionParticipant, error) {
	var p models.SessionParticipant
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}

// UpdateScore is a single conditional UPDATE, so concurrent writers for the
// same row cannot lose each other's increments or move the score backwards.
func (s *Store) UpdateScore(ctx context.Context, sessionID, userID string, score int) error {
	res := s.db.WithContext(ctx).
		Model(&models.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]interface{}{
			"score":      gorm.Expr("CASE WHEN score < ? THEN ? ELSE score END", score, score),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("update score: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrParticipantNotFound
	}
	s.publish(ctx, realtime.TableSessionParticipants, realtime.EventUpdate, sessionID)
	return nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]models.SessionParticipant, error) {
	var ps []models.SessionParticipant
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("list participants of %s: %w", sessionID, err)
	}
	return ps, nil
}

// ================== CLEANUP ==================

// openTeamCond matches team rows whose current membership is below capacity.
// It is evaluated by the statement that deletes, so a team that filled after
// it was first selected is left alone.
const openTeamCond = "(SELECT COUNT(*) FROM team_members WHERE team_members.team_id = teams.id) < " +
	"CASE WHEN teams.max_members > 0 THEN teams.max_members ELSE ? END"

// DeleteStaleTeams removes teams created before the cutoff that never filled,
// memberships first. It returns the number of teams removed.
func (s *Store) DeleteStaleTeams(ctx context.Context, createdBefore time.Time) (int, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Team{})
		if s.lockRows() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var candidates []string
		if err := q.Where("created_at < ?", createdBefore.UTC()).
			Where(openTeamCond, models.TeamCapacity).
			Pluck("id", &candidates).Error; err != nil {
			return fmt.Errorf("find stale teams: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		stillOpen := tx.Model(&models.Team{}).
			Select("id").
			Where("id IN ?", candidates).
			Where(openTeamCond, models.TeamCapacity)
		if err := tx.Where("team_id IN (?)", stillOpen).Delete(&models.TeamMember{}).Error; err != nil {
			return fmt.Errorf("delete stale memberships: %w", err)
		}

		if err := tx.Model(&models.Team{}).
			Where("id IN ?", candidates).
			Where("NOT EXISTS (SELECT 1 FROM team_members WHERE team_members.team_id = teams.id)").
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("find emptied teams: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&models.Team{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale teams: %w", err)
	}

	for _, id := range ids {
		s.publish(ctx, realtime.TableTeamMembers, realtime.EventDelete, id)
	}
	return len(ids), nil
}

// DeleteStaleSessions removes sessions created before the cutoff together
// with their participants.
func (s *Store) DeleteStaleSessions(ctx context.Context, createdBefore time.Time) (int, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.QuizSession{}).
		Where("created_at < ?", createdBefore.UTC()).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("find stale sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&models.SessionParticipant{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.QuizSession{}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}

	for _, id := range ids {
		s.publish(ctx, realtime.TableSessionParticipants, realtime.EventDelete, id)
	}
	return len(ids), nil
}
