package handler

import (
	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/models"
	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

type ApprovalHandler struct {
	approvals *service.ApprovalService
}

func NewApprovalHandler(approvals *service.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals}
}

func (h *ApprovalHandler) List(c *fiber.Ctx) error {
	approvals, err := h.approvals.ListApprovals(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to retrieve approvals", err)
	}
	return utils.SuccessResponse(c, "Approvals retrieved successfully", approvals)
}

func (h *ApprovalHandler) Decide(c *fiber.Ctx) error {
	var req models.ApprovalDecision
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	status, err := h.approvals.Decide(c.UserContext(), principal(c), c.Params("id"), req.Action, req.Comments)
	if err != nil {
		return serviceError(c, "Failed to record decision", err)
	}
	return utils.SuccessResponse(c, "Decision recorded", fiber.Map{
		"approval_id": c.Params("id"),
		"file_status": status,
	})
}
