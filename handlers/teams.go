// handlers/teams.go - Matchmaking and team HTTP Handlers
package handlers

import (
	"errors"

	"wordduel/middleware"
	"wordduel/models"
	"wordduel/services"
	"wordduel/utils"

	"github.com/gofiber/fiber/v2"
)

type findMatchRequest struct {
	Tier        string `json:"tier"`
	DisplayName string `json:"display_name"`
}

func displayNameFor(c *fiber.Ctx, requested string) string {
	if requested != "" {
		return requested
	}
	return middleware.GetUsername(c)
}

// FindMatch puts the caller on a team with a free slot
// POST /api/matchmaking
func (h *Handler) FindMatch(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}

	var req findMatchRequest
	if err := utils.ParseBody(c, &req); err != nil {
		return utils.JSONError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		return h.respondError(c, err)
	}

	team, err := h.matchmaker.FindOrCreateTeam(c.UserContext(), userID, displayNameFor(c, req.DisplayName), tier)
	if err != nil {
		return h.respondError(c, err)
	}

	return utils.JSONSuccess(c, fiber.Map{
		"team":   team,
		"status": services.DeriveStatus(team.Members, team.Capacity()),
	})
}

// LeaveMatch removes the caller from a team. It succeeds even if the caller
// was not on it.
// DELETE /api/matchmaking/:teamId
func (h *Handler) LeaveMatch(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	h.matchmaker.Leave(c.UserContext(), c.Params("teamId"), userID)
	return utils.JSONSuccess(c, fiber.Map{"message": "Left team"})
}

// GET /api/teams/:id
func (h *Handler) GetTeam(c *fiber.Ctx) error {
	team, err := h.teams.GetTeam(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"team": team})
}

// GetMembers returns the member snapshot and the derived waiting/ready status
// GET /api/teams/:id/members
func (h *Handler) GetMembers(c *fiber.Ctx) error {
	team, err := h.teams.GetTeam(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	status := services.DeriveStatus(team.Members, team.Capacity())
	return utils.JSONSuccess(c, fiber.Map{
		"members":     team.Members,
		"status":      status,
		"status_text": status.String(),
	})
}

// POST /api/teams/:id/ready
func (h *Handler) ToggleReady(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	member, err := h.matchmaker.ToggleReady(c.UserContext(), c.Params("id"), userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"member": member})
}

// StartTeamSession returns the quiz session shared by the caller's team.
// POST /api/teams/:id/session
func (h *Handler) StartTeamSession(c *fiber.Ctx) error {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		return h.respondError(c, err)
	}
	teamID := c.Params("id")
	if _, err := h.teams.GetMembership(c.UserContext(), teamID, userID); err != nil {
		if errors.Is(err, models.ErrMembershipNotFound) {
			return utils.JSONError(c, fiber.StatusForbidden, "You are not a member of this team")
		}
		return h.respondError(c, err)
	}

	session, err := h.sessions.EnsureTeamSession(c.UserContext(), teamID)
	if err != nil {
		return h.respondError(c, err)
	}
	return utils.JSONSuccess(c, fiber.Map{"session": session})
}
