package services

import (
	"sort"

	"wordduel/models"
)

// RankedPlayer is one leaderboard row as shown to a participant.
type RankedPlayer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Rank   int    `json:"rank"`
	IsSelf bool   `json:"is_self"`
}

// Rank orders participants by score descending, ties broken by first-seen
// order (store row id), and numbers them from 1. Every observer of the same
// snapshot gets the same ordering.
func Rank(participants []models.SessionParticipant, selfID string) []RankedPlayer {
	sorted := make([]models.SessionParticipant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].ID < sorted[j].ID
	})

	out := make([]RankedPlayer, len(sorted))
	for i, p := range sorted {
		name := p.DisplayName
		if name == "" {
			name = "Player"
		}
		out[i] = RankedPlayer{
			ID:     p.UserID,
			Name:   name,
			Score:  p.Score,
			Rank:   i + 1,
			IsSelf: p.UserID == selfID,
		}
	}
	return out
}
