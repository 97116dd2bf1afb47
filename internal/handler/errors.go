package handler

import (
	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/middleware"
	"mass-payments/internal/models"
	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

// serviceError maps a service error onto an HTTP status.
func serviceError(c *fiber.Ctx, message string, err error) error {
	status := fiber.StatusInternalServerError
	switch service.KindOf(err) {
	case service.KindNotFound:
		status = fiber.StatusNotFound
	case service.KindForbidden:
		status = fiber.StatusForbidden
	case service.KindConflict:
		status = fiber.StatusConflict
	case service.KindInvalid:
		status = fiber.StatusBadRequest
	}
	return utils.ErrorResponse(c, status, message, err)
}

func principal(c *fiber.Ctx) models.Principal {
	p, _ := middleware.GetPrincipal(c)
	return p
}
