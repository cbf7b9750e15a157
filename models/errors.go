package models

import "errors"

var (
	// Membership races. Both are absorbed inside matchmaking.
	ErrCapacityExceeded    = errors.New("team capacity exceeded")
	ErrDuplicateMembership = errors.New("already a member of this team")

	// ErrMatchmakingFailed is terminal: retries against full teams were exhausted.
	ErrMatchmakingFailed = errors.New("matchmaking failed")

	// ErrScoreSubmitFailed wraps a failed remote score write. Non-fatal.
	ErrScoreSubmitFailed = errors.New("score submit failed")

	ErrTeamNotFound         = errors.New("team not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrSessionNotFound      = errors.New("quiz session not found")
	ErrParticipantNotFound  = errors.New("session participant not found")
	ErrDuplicateParticipant = errors.New("already joined this session")

	ErrInvalidTier    = errors.New("invalid tier")
	ErrInvalidInput   = errors.New("invalid input")
	ErrAlreadyStarted = errors.New("quiz already started for this team")
)
