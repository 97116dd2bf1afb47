package utils

import "github.com/gofiber/fiber/v2"

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func SuccessResponse(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func CreatedResponse(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse writes a failure envelope. err is only exposed for client
// errors; server errors are logged instead.
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	resp := Response{Success: false, Message: message}
	if err != nil {
		if status >= fiber.StatusInternalServerError {
			GetLogger().WithError(err).WithField("path", c.Path()).Error(message)
		} else {
			resp.Error = err.Error()
		}
	}
	return c.Status(status).JSON(resp)
}
