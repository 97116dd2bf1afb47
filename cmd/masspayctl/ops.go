package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"mass-payments/internal/app"
	"mass-payments/internal/config"
	"mass-payments/internal/database"
	"mass-payments/internal/repository"
	"mass-payments/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := repository.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var (
		tenant   string
		home     string
		password string
		balances []string
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a tenant with admin, approver and uploader users",
		Long: `Create a tenant with one user per role and optional settlement accounts.

Examples:
  masspayctl seed --tenant acme --home USD --password s3cret --balance USD=500000 --balance EUR=250000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opening := make(map[string]decimal.Decimal, len(balances))
			for _, b := range balances {
				code, amount, ok := strings.Cut(b, "=")
				if !ok {
					return fmt.Errorf("balance %q must look like CUR=amount", b)
				}
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("balance %q: %w", b, err)
				}
				opening[code] = d
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := service.Seed(cmd.Context(), a.Store, service.SeedOptions{
				TenantName:   tenant,
				HomeCurrency: home,
				Password:     password,
				Balances:     opening,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant name (required)")
	cmd.Flags().StringVar(&home, "home", "USD", "tenant home currency")
	cmd.Flags().StringVar(&password, "password", "", "password for the seeded users (required)")
	cmd.Flags().StringArrayVar(&balances, "balance", nil, "settlement account as CUR=amount, repeatable")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile sweep over stuck files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Reconciler.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revalidated=%d redispatched=%d resolved=%d finalized=%d\n",
				report.Revalidated, report.Redispatched, report.Resolved, report.Finalized)
			return nil
		},
	}
}
