// models/quiz_session.go - Quiz session scoring models
package models

import (
	"strings"
	"time"
)

const sessionIDPrefix = "session_"

// QuizSession is the scoring context of one played game.
type QuizSession struct {
	ID        string    `json:"id" gorm:"primaryKey;size:100"`
	TeamID    *string   `json:"team_id,omitempty" gorm:"size:64;index"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// SessionParticipant tracks one player's live score in a session. ID is
// assigned by the store in insertion order and doubles as first-seen order.
type SessionParticipant struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SessionID   string    `json:"session_id" gorm:"not null;size:100;uniqueIndex:idx_session_participants_session_user,priority:1"`
	UserID      string    `json:"user_id" gorm:"not null;size:64;uniqueIndex:idx_session_participants_session_user,priority:2"`
	DisplayName string    `json:"display_name" gorm:"size:100"`
	Score       int       `json:"score" gorm:"not null;default:0"`
	JoinedAt    time.Time `json:"joined_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (QuizSession) TableName() string {
	return "quiz_sessions"
}

func (SessionParticipant) TableName() string {
	return "session_participants"
}

// TeamSessionID is the session every member of teamID converges on.
func TeamSessionID(teamID string) string {
	return sessionIDPrefix + teamID
}

// SoloSessionID builds a session id from a unique suffix.
func SoloSessionID(suffix string) string {
	return sessionIDPrefix + suffix
}

// IsTeamSession reports whether the session belongs to a team game.
func (s *QuizSession) IsTeamSession() bool {
	return s.TeamID != nil && strings.HasPrefix(s.ID, sessionIDPrefix)
}
