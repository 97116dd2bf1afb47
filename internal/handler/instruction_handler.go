package handler

import (
	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

type InstructionHandler struct {
	processor *service.PaymentProcessor
}

func NewInstructionHandler(processor *service.PaymentProcessor) *InstructionHandler {
	return &InstructionHandler{processor: processor}
}

func (h *InstructionHandler) Retry(c *fiber.Ctx) error {
	inst, err := h.processor.Retry(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to retry instruction", err)
	}
	return utils.SuccessResponse(c, "Instruction queued for retry", inst)
}

func (h *InstructionHandler) Cancel(c *fiber.Ctx) error {
	inst, err := h.processor.CancelInstruction(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to cancel instruction", err)
	}
	return utils.SuccessResponse(c, "Instruction cancelled", inst)
}
