package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"mass-payments/internal/models"
	"mass-payments/internal/validation"
)

// ExcelService writes spreadsheets: validation error reports and upload
// templates.
type ExcelService struct{}

func NewExcelService() *ExcelService {
	return &ExcelService{}
}

var headerStyleDef = &excelize.Style{
	Font: &excelize.Font{Bold: true},
	Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
}

// WriteErrorReport lists every file level and row level validation error.
func (s *ExcelService) WriteErrorReport(w io.Writer, file *models.PaymentFile, rejected []models.PaymentInstruction) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Validation Errors"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	headers := []string{"Row", "Field", "Code", "Message", "Beneficiary", "Reference", "Amount"}
	for i, header := range headers {
		f.SetCellValue(sheetName, fmt.Sprintf("%s1", getColumnName(i)), header)
	}

	row := 2
	for _, e := range file.ValidationSummary.FileErrors {
		writeRow(f, sheetName, row, []interface{}{"file", e.Field, string(e.Code), e.Message, "", "", ""})
		row++
	}
	for _, inst := range rejected {
		for _, e := range inst.ValidationErrors {
			writeRow(f, sheetName, row, []interface{}{
				e.RowNumber,
				e.Field,
				string(e.Code),
				e.Message,
				inst.BeneficiaryName,
				inst.Reference,
				inst.Amount.String(),
			})
			row++
		}
	}

	headerStyle, _ := f.NewStyle(headerStyleDef)
	f.SetCellStyle(sheetName, "A1", fmt.Sprintf("%s1", getColumnName(len(headers)-1)), headerStyle)
	for i, width := range []float64{8, 22, 22, 60, 30, 20, 15} {
		colName := getColumnName(i)
		f.SetColWidth(sheetName, colName, colName, width)
	}

	if err := s.writeSummarySheet(f, file); err != nil {
		return err
	}

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")
	_, err = f.WriteTo(w)
	return err
}

func (s *ExcelService) writeSummarySheet(f *excelize.File, file *models.PaymentFile) error {
	sheetName := "Summary"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	lines := [][]interface{}{
		{"File", file.OriginalFilename},
		{"Status", string(file.Status)},
		{"Currency", file.Currency},
		{"Rows", file.TotalRows},
		{"Valid rows", file.ValidRows},
		{"Invalid rows", file.InvalidRows},
		{"Valid amount", file.TotalAmount.String()},
		{"", ""},
		{"Error code", "Count"},
	}
	for code, n := range file.ValidationSummary.ErrorCounts {
		lines = append(lines, []interface{}{string(code), n})
	}
	for i, line := range lines {
		writeRow(f, sheetName, i+1, line)
	}
	f.SetColWidth(sheetName, "A", "A", 22)
	f.SetColWidth(sheetName, "B", "B", 40)
	return nil
}

// WriteTemplate writes an upload template for one currency with n sample
// rows that pass validation.
func (s *ExcelService) WriteTemplate(w io.Writer, rule models.CurrencyRule, purposeCodes []models.PurposeCode, n int) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Payments"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	for i, header := range validation.Columns {
		f.SetCellValue(sheetName, fmt.Sprintf("%s1", getColumnName(i)), header)
	}
	for i, sample := range SampleRows(rule, purposeCodes, n) {
		values := make([]interface{}, len(sample))
		for j, v := range sample {
			values[j] = v
		}
		writeRow(f, sheetName, i+2, values)
	}

	headerStyle, _ := f.NewStyle(headerStyleDef)
	f.SetCellStyle(sheetName, "A1", fmt.Sprintf("%s1", getColumnName(len(validation.Columns)-1)), headerStyle)
	// Accounts and amounts stay text so leading zeros and decimals survive.
	textStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 49})
	f.SetColStyle(sheetName, "A:"+getColumnName(len(validation.Columns)-1), textStyle)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")
	_, err = f.WriteTo(w)
	return err
}

// SampleRows builds n rows, in validation.Columns order, that satisfy the
// rule's corridor requirements.
func SampleRows(rule models.CurrencyRule, purposeCodes []models.PurposeCode, n int) [][]string {
	method := rule.DefaultSettlementMethod
	amount := rule.MinAmount.Mul(decimal.NewFromInt(10))
	if amount.GreaterThan(rule.MaxAmount) {
		amount = rule.MaxAmount
	}

	rows := make([][]string, 0, n)
	for i := 1; i <= n; i++ {
		values := map[string]string{
			validation.ColBeneficiaryName:  fmt.Sprintf("Beneficiary %d", i),
			validation.ColAmount:           amount.Add(decimal.NewFromInt(int64(i))).StringFixed(rule.DecimalPlaces),
			validation.ColCurrency:         rule.Code,
			validation.ColSettlementMethod: method,
			validation.ColReference:        fmt.Sprintf("PAY-%s-%05d", rule.Code, i),
			validation.ColBeneficiaryType:  models.BeneficiaryIndividual,
			validation.ColAddressLine:      strconv.Itoa(i) + " Market Street",
			validation.ColCity:             "Springfield",
			validation.ColCountry:          rule.Country,
		}
		switch method {
		case models.SettlementSepa:
			values[validation.ColBeneficiaryAccount] = "DE89370400440532013000"
		case models.SettlementLocalGB:
			values[validation.ColBeneficiaryAccount] = fmt.Sprintf("%08d", 10000000+i)
			values[validation.ColSortCode] = "123456"
		default:
			values[validation.ColBeneficiaryAccount] = fmt.Sprintf("%012d", 400000000+i)
		}
		if method == models.SettlementSwift || rule.RequiresSwift {
			values[validation.ColSwiftCode] = "DEUTDEFF"
		}
		if rule.RequiresIBAN {
			values[validation.ColIBAN] = "DE89370400440532013000"
		}
		if rule.RequiresInvoice {
			values[validation.ColInvoiceNumber] = fmt.Sprintf("INV-%05d", i)
			values[validation.ColInvoiceDate] = "2024-01-15"
		}
		if rule.RequiresPurposeCode && len(purposeCodes) > 0 {
			values[validation.ColPurposeCode] = purposeCodes[0].Code
		}

		row := make([]string, len(validation.Columns))
		for j, col := range validation.Columns {
			row[j] = values[col]
		}
		rows = append(rows, row)
	}
	return rows
}

func writeRow(f *excelize.File, sheetName string, row int, values []interface{}) {
	for colIdx, value := range values {
		f.SetCellValue(sheetName, fmt.Sprintf("%s%d", getColumnName(colIdx), row), value)
	}
}

func getColumnName(index int) string {
	result := ""
	for index >= 0 {
		result = string(rune('A'+(index%26))) + result
		index = index/26 - 1
	}
	return result
}

// ErrorReport writes the validation error workbook of a file.
func (s *FileService) ErrorReport(ctx context.Context, principal models.Principal, fileID string, w io.Writer) error {
	file, err := s.Get(ctx, principal, fileID)
	if err != nil {
		return err
	}
	if file.Status == models.FileStatusDraft || file.Status == models.FileStatusValidating {
		return fmt.Errorf("%w: file has not been validated yet", ErrFileNotProcessable)
	}

	var rejected []models.PaymentInstruction
	afterRow := 0
	for {
		batch, err := s.repo.ListInstructions(ctx, file.ID, models.InstructionQuery{
			Statuses: []models.InstructionStatus{models.InstructionStatusValidationFailed},
			AfterRow: afterRow,
			Limit:    500,
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		rejected = append(rejected, batch...)
		afterRow = batch[len(batch)-1].RowNumber
	}
	return s.excel.WriteErrorReport(w, file, rejected)
}

// Template writes an upload template for currencyCode as "csv" or "xlsx"
// with n sample rows.
func (s *FileService) Template(w io.Writer, currencyCode, format string, n int) error {
	rule, err := s.rules.RuleFor(currencyCode)
	if err != nil {
		return err
	}
	purposeCodes := s.rules.PurposeCodes(rule.Code)
	switch format {
	case "xlsx":
		return s.excel.WriteTemplate(w, rule, purposeCodes, n)
	case "csv", "":
		cw := csv.NewWriter(w)
		if err := cw.Write(validation.Columns); err != nil {
			return err
		}
		if err := cw.WriteAll(SampleRows(rule, purposeCodes, n)); err != nil {
			return err
		}
		return cw.Error()
	default:
		return fmt.Errorf("%w: unsupported template format %q", ErrInvalidUpload, format)
	}
}
