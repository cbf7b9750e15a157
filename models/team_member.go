// models/team_member.go
package models

import "time"

// TeamMember is one (team, user) membership row. The pair is unique, so a
// rejoin never produces a second row.
type TeamMember struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	TeamID      string    `json:"team_id" gorm:"not null;size:64;uniqueIndex:idx_team_members_team_user,priority:1"`
	UserID      string    `json:"user_id" gorm:"not null;size:64;uniqueIndex:idx_team_members_team_user,priority:2;index"`
	DisplayName string    `json:"display_name" gorm:"size:100"`
	IsReady     bool      `json:"is_ready" gorm:"default:false"`
	JoinedAt    time.Time `json:"joined_at" gorm:"not null"`
}

func (TeamMember) TableName() string {
	return "team_members"
}
