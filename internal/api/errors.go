package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/crudkit-io/crudkit/internal/crud"
)

// SendError responds with a JSON error body.
func SendError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// SendBadRequest responds with 400.
func SendBadRequest(c fiber.Ctx, message string) error {
	return SendError(c, fiber.StatusBadRequest, message)
}

// SendNotFound responds with 404.
func SendNotFound(c fiber.Ctx, message string) error {
	return SendError(c, fiber.StatusNotFound, message)
}

// sendCrudError maps service and compiler errors onto HTTP statuses. Parse
// and authorization failures are client errors; everything else is a 500
// with the detail kept out of the response.
func sendCrudError(c fiber.Ctx, err error) error {
	switch {
	case crud.IsQueryParseError(err):
		return SendBadRequest(c, err.Error())
	case errors.Is(err, crud.ErrEmptyPayload):
		return SendBadRequest(c, err.Error())
	case errors.Is(err, crud.ErrNotFound):
		return SendNotFound(c, "Not found")
	default:
		var authErr *crud.ColumnAuthorizationError
		if errors.As(err, &authErr) {
			return SendBadRequest(c, authErr.Error())
		}
		return SendError(c, fiber.StatusInternalServerError, "Internal server error")
	}
}
