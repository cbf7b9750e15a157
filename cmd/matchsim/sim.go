package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"wordduel/models"
	"wordduel/services"

	"golang.org/x/sync/errgroup"
)

type report struct {
	Players   int
	TeamSizes map[string]int
	Placed    map[string]string // user id -> team id
	Failed    []string
}

// simulate starts n players at once and collects where each one landed.
func simulate(ctx context.Context, store services.TeamStore, mm *services.Matchmaker, n int, tier models.Tier) (*report, error) {
	rep := &report{
		Players:   n,
		TeamSizes: map[string]int{},
		Placed:    map[string]string{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("player-%02d", i+1)
		g.Go(func() error {
			team, err := mm.FindOrCreateTeam(gctx, userID, userID, tier)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Placed[userID] = team.ID
			case errors.Is(err, models.ErrMatchmakingFailed):
				rep.Failed = append(rep.Failed, userID)
			default:
				return fmt.Errorf("%s: %w", userID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	teams, err := store.ListTeamsByTier(ctx, tier)
	if err != nil {
		return nil, err
	}
	for _, t := range teams {
		rep.TeamSizes[t.ID] = len(t.Members)
	}
	sort.Strings(rep.Failed)
	return rep, nil
}

// verify fails when a team is over capacity or a player ended up nowhere.
func (r *report) verify() error {
	for id, size := range r.TeamSizes {
		if size > models.TeamCapacity {
			return fmt.Errorf("team %s has %d members, capacity is %d", id, size, models.TeamCapacity)
		}
	}
	total := 0
	for _, size := range r.TeamSizes {
		total += size
	}
	if total != len(r.Placed) {
		return fmt.Errorf("%d memberships stored for %d placed players", total, len(r.Placed))
	}
	if len(r.Placed)+len(r.Failed) != r.Players {
		return fmt.Errorf("%d of %d players unaccounted for", r.Players-len(r.Placed)-len(r.Failed), r.Players)
	}
	return nil
}

func (r *report) print(w io.Writer) {
	ids := make([]string, 0, len(r.TeamSizes))
	for id := range r.TeamSizes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "players: %d  teams: %d  failed: %d\n", r.Players, len(ids), len(r.Failed))
	for _, id := range ids {
		fmt.Fprintf(w, "  %s  %d/%d\n", id, r.TeamSizes[id], models.TeamCapacity)
	}
	for _, u := range r.Failed {
		fmt.Fprintf(w, "  unmatched: %s\n", u)
	}
}
