package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mass-payments/internal/config"
	"mass-payments/internal/currency"
	"mass-payments/internal/models"
	"mass-payments/internal/service"
	"mass-payments/internal/validation"
)

func loadRules(path string) (*currency.Registry, error) {
	if path == "" {
		return currency.Default(), nil
	}
	return currency.LoadFile(path)
}

func validateCmd() *cobra.Command {
	var (
		code      string
		rulesPath string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a payment file offline and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules(rulesPath)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cfg := config.Defaults()
			v := validation.NewFileValidator(validation.NewRowValidator(rules), cfg.MinRows, cfg.MaxRows)

			var out *validation.Outcome
			src, err := validation.NewSource(filepath.Base(args[0]), f)
			if err != nil {
				out = validation.UnreadableOutcome(err)
			} else {
				defer src.Close()
				if out, err = v.Validate(cmd.Context(), src, code); err != nil {
					return err
				}
			}
			return printOutcome(cmd.OutOrStdout(), out, asJSON)
		},
	}
	cmd.Flags().StringVarP(&code, "currency", "c", "", "file currency (required)")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "currency rule YAML overriding the built-in table")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	_ = cmd.MarkFlagRequired("currency")
	return cmd
}

func printOutcome(w io.Writer, out *validation.Outcome, asJSON bool) error {
	var rowErrors []models.ValidationError
	for _, r := range out.Rows {
		rowErrors = append(rowErrors, r.Errors...)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Decision    models.FileStatus        `json:"decision"`
			TotalRows   int                      `json:"total_rows"`
			ValidRows   int                      `json:"valid_rows"`
			InvalidRows int                      `json:"invalid_rows"`
			TotalAmount string                   `json:"total_amount"`
			Summary     models.ValidationSummary `json:"summary"`
			RowErrors   []models.ValidationError `json:"row_errors,omitempty"`
		}{out.Decision(), out.TotalRows, out.ValidRows, out.InvalidRows, out.TotalAmount.String(), out.Summary(), rowErrors})
	}

	fmt.Fprintf(w, "Decision:     %s\n", out.Decision())
	fmt.Fprintf(w, "Rows:         %d (valid %d, invalid %d)\n", out.TotalRows, out.ValidRows, out.InvalidRows)
	fmt.Fprintf(w, "Valid amount: %s\n", out.TotalAmount.String())
	for _, e := range out.FileErrors {
		fmt.Fprintf(w, "FILE  %-24s %s\n", e.Code, e.Message)
	}
	for _, e := range rowErrors {
		fmt.Fprintf(w, "ROW %-4d %-18s %-24s %s\n", e.RowNumber, e.Field, e.Code, e.Message)
	}
	for _, wn := range out.Warnings {
		fmt.Fprintf(w, "WARN  %s\n", wn.Message)
	}
	return nil
}

func sampleCmd() *cobra.Command {
	var (
		code   string
		rows   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write a sample payment file that passes validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			files := service.NewFileService(nil, nil, currency.Default(), nil, nil, nil, nil, cfg)

			format := strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return files.Template(w, code, format, rows)
		},
	}
	cmd.Flags().StringVarP(&code, "currency", "c", "USD", "currency of the sample rows")
	cmd.Flags().IntVarP(&rows, "rows", "n", 10, "number of rows")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path; .xlsx writes a workbook, anything else CSV")
	return cmd
}

func rulesCmd() *cobra.Command {
	var rulesPath string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the currency rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRules(rulesPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, r := range rules.Rules() {
				methods := append([]string(nil), r.SettlementMethods...)
				sort.Strings(methods)
				fmt.Fprintf(w, "%s  %-8s min=%s max=%s approval>=%s methods=%s\n",
					r.Code, r.Provider, r.MinAmount, r.MaxAmount, r.ApprovalThreshold, strings.Join(methods, ","))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rulesPath, "rules", "", "currency rule YAML overriding the built-in table")
	return cmd
}
