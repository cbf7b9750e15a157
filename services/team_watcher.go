// services/team_watcher.go - Live team membership snapshots
package services

import (
	"context"
	"fmt"

	"wordduel/models"
	"wordduel/realtime"

	"go.uber.org/zap"
)

type TeamPhase string

const (
	PhaseWaiting TeamPhase = "waiting"
	PhaseReady   TeamPhase = "ready"
)

// TeamStatus is the caller-side classification of a member snapshot.
type TeamStatus struct {
	Phase    TeamPhase `json:"phase"`
	Count    int       `json:"count"`
	Capacity int       `json:"capacity"`
}

func DeriveStatus(members []models.TeamMember, capacity int) TeamStatus {
	if capacity <= 0 {
		capacity = models.TeamCapacity
	}
	st := TeamStatus{Phase: PhaseWaiting, Count: len(members), Capacity: capacity}
	if st.Count >= capacity {
		st.Phase = PhaseReady
	}
	return st
}

func (s TeamStatus) Ready() bool {
	return s.Phase == PhaseReady
}

func (s TeamStatus) String() string {
	if s.Ready() {
		return string(PhaseReady)
	}
	return fmt.Sprintf("%s (%d/%d)", PhaseWaiting, s.Count, s.Capacity)
}

// TeamWatcher streams full member lists of one team.
type TeamWatcher struct {
	store    TeamStore
	notifier realtime.Notifier
	log      *zap.SugaredLogger
}

func NewTeamWatcher(store TeamStore, notifier realtime.Notifier, log *zap.SugaredLogger) *TeamWatcher {
	return &TeamWatcher{store: store, notifier: notifier, log: log}
}

// Watch calls onUpdate with the complete member list once immediately and
// again after every change to the team's memberships, whatever its kind.
// The returned subscription must be closed by the caller.
func (w *TeamWatcher) Watch(ctx context.Context, teamID string, onUpdate func([]models.TeamMember)) (realtime.Subscription, error) {
	log := w.log.With("team_id", teamID)
	sub, err := refetchOnSignal(ctx, w.notifier,
		realtime.Filter{Table: realtime.TableTeamMembers, Key: teamID},
		func(ctx context.Context) ([]models.TeamMember, error) {
			return w.store.ListMembers(ctx, teamID)
		},
		onUpdate,
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("watch team %s: %w", teamID, err)
	}
	return sub, nil
}
