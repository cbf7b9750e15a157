// utils/http.go - JSON response helpers for fiber handlers
package utils

import (
	"github.com/gofiber/fiber/v2"
)

// JSONError sends {"success": false, "error": message} with status.
func JSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

// JSONSuccess sends a 200 with success=true. A fiber.Map is merged into the
// body; anything else goes under "data".
func JSONSuccess(c *fiber.Ctx, data interface{}) error {
	return JSONStatus(c, fiber.StatusOK, data)
}

func JSONStatus(c *fiber.Ctx, status int, data interface{}) error {
	response := fiber.Map{"success": true}
	if m, ok := data.(fiber.Map); ok {
		for k, v := range m {
			response[k] = v
		}
	} else if data != nil {
		response["data"] = data
	}
	return c.Status(status).JSON(response)
}

// ParseBody decodes the JSON body into v. An empty body leaves v untouched.
func ParseBody(c *fiber.Ctx, v interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(v)
}
