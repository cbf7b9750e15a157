package services

import (
	"context"
	"sync"
)

// Leaver removes a membership on a best-effort basis.
type Leaver interface {
	Leave(ctx context.Context, teamID, userID string)
}

// LeaveGuard makes sure an abandoned player is removed from their team at
// most once, and never after the team has been handed off to the quiz.
type LeaveGuard struct {
	leaver Leaver
	teamID string
	userID string

	mu        sync.Mutex
	committed bool
	left      bool
}

func NewLeaveGuard(leaver Leaver, teamID, userID string) *LeaveGuard {
	return &LeaveGuard{leaver: leaver, teamID: teamID, userID: userID}
}

// Commit marks the hand-off to the quiz. It reports false if the player
// already left.
func (g *LeaveGuard) Commit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.left {
		return false
	}
	g.committed = true
	return true
}

func (g *LeaveGuard) Committed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.committed
}

// Leave removes the membership unless that already happened. It is used for
// explicit cancel and error recovery, so it ignores Commit.
func (g *LeaveGuard) Leave(ctx context.Context) bool {
	g.mu.Lock()
	if g.left {
		g.mu.Unlock()
		return false
	}
	g.left = true
	g.mu.Unlock()

	g.leaver.Leave(ctx, g.teamID, g.userID)
	return true
}

// Teardown is called when the player's client goes away. Before the hand-off
// it leaves the team; after it, the player stays with the team they are about
// to play with.
func (g *LeaveGuard) Teardown(ctx context.Context) bool {
	g.mu.Lock()
	if g.committed || g.left {
		g.mu.Unlock()
		return false
	}
	g.left = true
	g.mu.Unlock()

	g.leaver.Leave(ctx, g.teamID, g.userID)
	return true
}
