// database/migrate.go - Database Migration Runner
package database

import (
	"fmt"

	"wordduel/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunMigrations creates the matchmaking and session tables and their indexes.
func RunMigrations(db *gorm.DB, log *zap.SugaredLogger) error {
	log.Infow("running database migrations")

	if err := db.AutoMigrate(
		&models.Team{},
		&models.TeamMember{},
		&models.QuizSession{},
		&models.SessionParticipant{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_team_members_team_joined ON team_members(team_id, joined_at)",
		"CREATE INDEX IF NOT EXISTS idx_session_participants_session ON session_participants(session_id, id)",
		"CREATE INDEX IF NOT EXISTS idx_quiz_sessions_created ON quiz_sessions(created_at)",
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	log.Infow("migrations completed")
	return nil
}
