package handlers

import (
	"errors"

	"wordduel/models"
	"wordduel/utils"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps domain errors onto HTTP status codes. Order matters: a
// wrapped not-found beats the generic submit failure around it.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, models.ErrInvalidTier), errors.Is(err, models.ErrInvalidInput):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrTeamNotFound),
		errors.Is(err, models.ErrMembershipNotFound),
		errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrParticipantNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrAlreadyStarted),
		errors.Is(err, models.ErrDuplicateParticipant):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, models.ErrMatchmakingFailed):
		return fiber.StatusServiceUnavailable, "No team available right now. Please try again."
	case errors.Is(err, models.ErrScoreSubmitFailed):
		return fiber.StatusServiceUnavailable, "Score could not be saved. It will be sent with your next answer."
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	status, msg := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Errorw("request failed", "path", c.Path(), "status", status, "error", err)
	}
	return utils.JSONError(c, status, msg)
}

// ErrorHandler is the fiber-wide error handler. It hides 500 details in
// production.
func ErrorHandler(production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		}
		if production && code == fiber.StatusInternalServerError {
			message = "An error occurred. Please try again later."
		}
		return utils.JSONError(c, code, message)
	}
}
