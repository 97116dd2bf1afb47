package handler

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"mass-payments/internal/config"
	"mass-payments/internal/models"
	"mass-payments/internal/service"
	"mass-payments/internal/utils"
)

type PaymentFileHandler struct {
	files *service.FileService
	cfg   *config.Config
}

func NewPaymentFileHandler(files *service.FileService, cfg *config.Config) *PaymentFileHandler {
	return &PaymentFileHandler{files: files, cfg: cfg}
}

// Upload accepts a multipart form with "file", "currency" and
// "settlement_account_id".
func (h *PaymentFileHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File is required", err)
	}
	if fh.Size > int64(h.cfg.UploadMaxSize) {
		return utils.ErrorResponse(c, fiber.StatusRequestEntityTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit", h.cfg.UploadMaxSize), nil)
	}

	src, err := fh.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read uploaded file", err)
	}
	defer src.Close()

	req := models.UploadRequest{
		Filename:            filepath.Base(fh.Filename),
		Currency:            c.FormValue("currency"),
		SettlementAccountID: c.FormValue("settlement_account_id"),
	}
	if req.Currency == "" || req.SettlementAccountID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Currency and settlement account are required", nil)
	}

	file, err := h.files.Upload(c.UserContext(), principal(c), req, src)
	if err != nil {
		return serviceError(c, "Failed to upload payment file", err)
	}
	return utils.CreatedResponse(c, "Payment file uploaded, validation queued", file)
}

func (h *PaymentFileHandler) List(c *fiber.Ctx) error {
	params := utils.PageFromQuery(c, h.cfg.DefaultPageSize, h.cfg.MaxPageSize)
	files, total, err := h.files.List(c.UserContext(), principal(c), models.FileFilter{
		Status: models.FileStatus(c.Query("status")),
		Limit:  params.Size,
		Offset: params.Offset(),
	})
	if err != nil {
		return serviceError(c, "Failed to retrieve payment files", err)
	}
	return utils.PagedResponse(c, "Payment files retrieved successfully", files, params, total)
}

func (h *PaymentFileHandler) Get(c *fiber.Ctx) error {
	file, err := h.files.Get(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Payment file not found", err)
	}
	return utils.SuccessResponse(c, "Payment file retrieved successfully", file)
}

func (h *PaymentFileHandler) Submit(c *fiber.Ctx) error {
	file, err := h.files.Submit(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to submit payment file", err)
	}
	return utils.SuccessResponse(c, "Payment file submitted", file)
}

func (h *PaymentFileHandler) Cancel(c *fiber.Ctx) error {
	file, err := h.files.Cancel(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to cancel payment file", err)
	}
	return utils.SuccessResponse(c, "Payment file cancelled", file)
}

func (h *PaymentFileHandler) Delete(c *fiber.Ctx) error {
	if err := h.files.Delete(c.UserContext(), principal(c), c.Params("id")); err != nil {
		return serviceError(c, "Failed to delete payment file", err)
	}
	return utils.SuccessResponse(c, "Payment file deleted", nil)
}

func (h *PaymentFileHandler) Progress(c *fiber.Ctx) error {
	p, err := h.files.Progress(c.UserContext(), principal(c), c.Params("id"))
	if err != nil {
		return serviceError(c, "Failed to retrieve progress", err)
	}
	return utils.SuccessResponse(c, "Progress retrieved successfully", p)
}

func (h *PaymentFileHandler) Instructions(c *fiber.Ctx) error {
	params := utils.PageFromQuery(c, h.cfg.DefaultPageSize, h.cfg.MaxPageSize)
	q := models.InstructionQuery{Limit: params.Size, Offset: params.Offset()}
	if status := c.Query("status"); status != "" {
		q.Statuses = []models.InstructionStatus{models.InstructionStatus(status)}
	}
	instructions, total, err := h.files.ListInstructions(c.UserContext(), principal(c), c.Params("id"), q)
	if err != nil {
		return serviceError(c, "Failed to retrieve instructions", err)
	}
	return utils.PagedResponse(c, "Instructions retrieved successfully", instructions, params, total)
}

func (h *PaymentFileHandler) ErrorReport(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := h.files.ErrorReport(c.UserContext(), principal(c), c.Params("id"), &buf); err != nil {
		return serviceError(c, "Failed to build error report", err)
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=errors_%s.xlsx", c.Params("id")))
	return c.Send(buf.Bytes())
}

// Export downloads the tenant's payment files as a spreadsheet, optionally
// filtered by ?status=.
func (h *PaymentFileHandler) Export(c *fiber.Ctx) error {
	filter := models.FileFilter{Status: models.FileStatus(c.Query("status"))}
	var buf bytes.Buffer
	if err := h.files.Export(c.UserContext(), principal(c), filter, &buf); err != nil {
		return serviceError(c, "Failed to export payment files", err)
	}
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, "attachment; filename=payment_files.xlsx")
	return c.Send(buf.Bytes())
}

// Template serves a sample upload file: ?currency=EUR&format=xlsx&rows=5.
func (h *PaymentFileHandler) Template(c *fiber.Ctx) error {
	code := c.Query("currency")
	format := c.Query("format", "csv")
	rows := c.QueryInt("rows", 5)
	if rows < 1 || rows > 100 {
		rows = 5
	}

	var buf bytes.Buffer
	if err := h.files.Template(&buf, code, format, rows); err != nil {
		return serviceError(c, "Failed to build template", err)
	}
	contentType := "text/csv"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	} else {
		format = "csv"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=payments_%s.%s", code, format))
	return c.Send(buf.Bytes())
}
