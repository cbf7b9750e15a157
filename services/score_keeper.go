package services

import (
	"context"
	"sync"
)

// ScoreIncrement is awarded for each correct answer.
const ScoreIncrement = 100

// ScoreKeeper holds one player's optimistic local score and pushes it to the
// store after every correct answer. A failed push leaves the local score in
// place; the next successful push carries the full total, and the store
// never lowers a score, so the remote value catches up.
type ScoreKeeper struct {
	sessions  *QuizSessionCoordinator
	sessionID string
	userID    string

	mu    sync.Mutex
	score int
}

func NewScoreKeeper(sessions *QuizSessionCoordinator, sessionID, userID string, initial int) *ScoreKeeper {
	return &ScoreKeeper{sessions: sessions, sessionID: sessionID, userID: userID, score: initial}
}

// AddCorrect adds ScoreIncrement locally and submits the new total. The
// returned score is the local one even when err is non-nil.
func (k *ScoreKeeper) AddCorrect(ctx context.Context) (int, error) {
	k.mu.Lock()
	k.score += ScoreIncrement
	score := k.score
	k.mu.Unlock()

	return score, k.sessions.SubmitScore(ctx, k.sessionID, k.userID, score)
}

func (k *ScoreKeeper) Score() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.score
}
