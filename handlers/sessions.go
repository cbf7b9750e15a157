// handlers/sessions.go - Quiz session HTTP Handlers
package handlers

import (
	"context"
	"errors"

	"wordduel/middleware"
	"wordduel/models"
	"wordduel/utils"

	"github.com/gofiber/fiber/v2"
)

// POST /api/sessions
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	if _, err := middleware.GetUserID(c); err != nil {
		return h.respondError(c, err)
	}
	session, err := h.sessions.Create(c.UserContext())
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONStatus(c, fiber.StatusCreated, fiber.Map{"session": session})
}

type joinSessionRequest struct {
	DisplayName string `json:"display_name"`
}

// POST /api/sessions/:id/join
func (h *Handler) JoinSession(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	var req joinSessionRequest
	if err := utils.ParseBody(c, &req); err != nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := h.checkSessionAccess(c.UserContext(), c.Params("id"), userID); err != nil {
		return h.respondError(c, err)
	}
	p, err := h.sessions.Join(c.UserContext(), c.Params("id"), userID, displayNameFor(c, req.DisplayName))
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"participant": p})
}

type submitScoreRequest struct {
	Score *int `json:"score"`
}

// SubmitScore raises the caller's own score. Scores never go down.
// POST /api/sessions/:id/score
func (h *Handler) SubmitScore(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	var req submitScoreRequest
	if err := utils.ParseBody(c, &req); err != nil || req.Score == nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "score is required")
	}

	sessionID := c.Params("id")
	if err := h.sessions.SubmitScore(c.UserContext(), sessionID, userID, *req.Score); err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return utils.JSONError(c, fiber.StatusBadRequest, "score must not be negative")
		}
		return h.respondError(c, err)
	}

	ranking, err := h.sessions.Ranking(c.UserContext(), sessionID, userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"ranking": ranking})
}

// GET /api/sessions/:id/ranking
func (h *Handler) GetRanking(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	sessionID := c.Params("id")
	if _, err := h.sessions.Get(c.UserContext(), sessionID); err != nil {
		return h.respondError(c, err)
	}
	ranking, err := h.sessions.Ranking(c.UserContext(), sessionID, userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"session_id": sessionID, "ranking": ranking})
}

// checkSessionAccess keeps team sessions to the members of that team. Solo
// sessions are open to anyone holding the id.
func (h *Handler) checkSessionAccess(ctx context.Context, sessionID, userID string) error {
	session, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsTeamSession() {
		return nil
	}
	if _, err := h.teams.GetMembership(ctx, *session.TeamID, userID); err != nil {
		if errors.Is(err, models.ErrMembershipNotFound) {
			return fiber.NewError(fiber.StatusForbidden, "You are not a member of this team")
		}
		return err
	}
	return nil
}
