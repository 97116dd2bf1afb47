package service

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"mass-payments/internal/models"
)

var statusFills = map[models.FileStatus]string{
	models.FileStatusCompleted:        "#D4EDDA",
	models.FileStatusFailed:           "#F8D7DA",
	models.FileStatusValidationFailed: "#F8D7DA",
	models.FileStatusProcessing:       "#FFF3CD",
	models.FileStatusAwaitingApproval: "#FFF3CD",
}

// WriteFileList exports payment files with their processing totals and a
// per-status summary below the table.
func (s *ExcelService) WriteFileList(w io.Writer, files []models.PaymentFile) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Payment Files"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)

	headers := []string{
		"ID", "Filename", "Currency", "Status", "Total Rows", "Valid Rows",
		"Invalid Rows", "Total Amount", "Succeeded", "Failed", "Processed Amount", "Created At",
	}
	headerStyle, _ := f.NewStyle(headerStyleDef)
	for i, header := range headers {
		cell := fmt.Sprintf("%s1", getColumnName(i))
		f.SetCellValue(sheetName, cell, header)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	fills := make(map[models.FileStatus]int)
	for status, color := range statusFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return err
		}
		fills[status] = id
	}

	counts := make(map[models.FileStatus]int)
	for i, file := range files {
		row := i + 2
		writeRow(f, sheetName, row, []interface{}{
			file.ID,
			file.OriginalFilename,
			file.Currency,
			string(file.Status),
			file.TotalRows,
			file.ValidRows,
			file.InvalidRows,
			file.TotalAmount.String(),
			file.SucceededCount,
			file.FailedCount,
			file.ProcessedAmount.String(),
			file.CreatedAt.Format("2006-01-02 15:04:05"),
		})
		if style, ok := fills[file.Status]; ok {
			cell := fmt.Sprintf("D%d", row)
			f.SetCellStyle(sheetName, cell, cell, style)
		}
		counts[file.Status]++
	}

	for i := range headers {
		col := getColumnName(i)
		f.SetColWidth(sheetName, col, col, 15)
	}
	f.SetColWidth(sheetName, "A", "A", 38)
	f.SetColWidth(sheetName, "B", "B", 30)
	f.SetColWidth(sheetName, "L", "L", 20)

	if len(files) > 0 {
		summaryRow := len(files) + 3
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", summaryRow), "Summary:")
		f.SetCellValue(sheetName, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("Total Files: %d", len(files)))

		statuses := make([]string, 0, len(counts))
		for status := range counts {
			statuses = append(statuses, string(status))
		}
		sort.Strings(statuses)
		row := summaryRow + 1
		for _, status := range statuses {
			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), fmt.Sprintf("%s: %d", status, counts[models.FileStatus(status)]))
			row++
		}
	}

	f.DeleteSheet("Sheet1")
	_, err = f.WriteTo(w)
	return err
}

// Export writes every file of the principal's tenant matching the filter.
func (s *FileService) Export(ctx context.Context, principal models.Principal, filter models.FileFilter, w io.Writer) error {
	pageSize := s.cfg.MaxPageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	filter.Limit = pageSize
	filter.Offset = 0

	var all []models.PaymentFile
	for {
		page, total, err := s.repo.ListFiles(ctx, principal.TenantID, filter)
		if err != nil {
			return err
		}
		all = append(all, page...)
		filter.Offset += len(page)
		if len(page) == 0 || filter.Offset >= total {
			break
		}
	}
	return s.excel.WriteFileList(w, all)
}
