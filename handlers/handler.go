// handlers/handler.go - Route table for the matchmaking and session API
package handlers

import (
	"wordduel/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

type Handler struct {
	teams      services.TeamStore
	matchmaker *services.Matchmaker
	lobby      *services.LobbyService
	sessions   *services.QuizSessionCoordinator
	log        *zap.SugaredLogger
}

func NewHandler(
	teams services.TeamStore,
	mm *services.Matchmaker,
	lobby *services.LobbyService,
	sessions *services.QuizSessionCoordinator,
	log *zap.SugaredLogger,
) *Handler {
	return &Handler{teams: teams, matchmaker: mm, lobby: lobby, sessions: sessions, log: log}
}

// RegisterAPI mounts the REST routes. auth must resolve the caller identity.
func (h *Handler) RegisterAPI(api fiber.Router) {
	api.Post("/matchmaking", h.FindMatch)
	api.Delete("/matchmaking/:teamId", h.LeaveMatch)

	api.Get("/teams/:id", h.GetTeam)
	api.Get("/teams/:id/members", h.GetMembers)
	api.Post("/teams/:id/ready", h.ToggleReady)
	api.Post("/teams/:id/session", h.StartTeamSession)

	api.Post("/sessions", h.CreateSession)
	api.Post("/sessions/:id/join", h.JoinSession)
	api.Post("/sessions/:id/score", h.SubmitScore)
	api.Get("/sessions/:id/ranking", h.GetRanking)
}

// RegisterWebSockets mounts the websocket feeds under ws.
func (h *Handler) RegisterWebSockets(ws fiber.Router) {
	ws.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	ws.Get("/lobby", websocket.New(h.LobbySocket))
	ws.Get("/sessions/:id", websocket.New(h.SessionSocket))
}
