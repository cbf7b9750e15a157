// models/team.go
package models

import (
	"strings"
	"time"
)

// TeamCapacity is the fixed size of a matchmaking team.
const TeamCapacity = 4

// Tier is the skill partition players are matched within.
type Tier string

const (
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
)

// ParseTier normalizes a tier name, returning ErrInvalidTier for unknown values.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierBeginner, TierIntermediate, TierAdvanced:
		return t, nil
	}
	return "", ErrInvalidTier
}

type Team struct {
	ID         string       `json:"id" gorm:"primaryKey;size:64"`
	Name       string       `json:"name" gorm:"not null;size:100"`
	Tier       Tier         `json:"tier" gorm:"not null;size:20;index:idx_teams_tier_created,priority:1"`
	MaxMembers int          `json:"max_members" gorm:"not null;default:4"`
	CreatedBy  string       `json:"created_by" gorm:"not null;size:64"`
	Members    []TeamMember `json:"members,omitempty" gorm:"foreignKey:TeamID"`
	CreatedAt  time.Time    `json:"created_at" gorm:"index:idx_teams_tier_created,priority:2,sort:desc"`
}

func (Team) TableName() string {
	return "teams"
}

// Capacity returns MaxMembers, falling back to TeamCapacity for rows written
// before the column had a value.
func (t *Team) Capacity() int {
	if t.MaxMembers <= 0 {
		return TeamCapacity
	}
	return t.MaxMembers
}

// IsFull reports whether the preloaded member list has reached capacity.
func (t *Team) IsFull() bool {
	return len(t.Members) >= t.Capacity()
}

// HasMember reports whether userID appears in the preloaded member list.
func (t *Team) HasMember(userID string) bool {
	for _, m := range t.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
