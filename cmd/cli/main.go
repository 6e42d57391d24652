// credit-cli is the operator command-line interface for the credit core:
// balance lookups, ledger history, manual payment admission, a read-only
// listing of pending payments, and schema migrations. Grounded on the teacher's
// beam-cli (main.go) — same global-flag/PersistentPreRunE/printJSON shape,
// command groups remapped to this domain's operations.
//
// Usage:
//
//	credit-cli balance get --account-id 0.0.5001
//	credit-cli ledger history --account-id 0.0.5001
//	credit-cli payment admin-process --tx-id 0.0.5001@169 --payer 0.0.5001 --amount 12.5 --credits 500
//	credit-cli reconcile run-once
//	credit-cli migrate
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/kelpejol/creditcore/internal/credit"
	"github.com/kelpejol/creditcore/internal/ledger"
	"github.com/kelpejol/creditcore/internal/oracle"
	"github.com/kelpejol/creditcore/internal/pricing"
)

var (
	// Version is set during build.
	Version = "dev"

	// Global flags
	databaseURL string
	network     string
	verbose     bool

	// Shared collaborators, constructed in PersistentPreRunE for commands
	// that need them.
	store   ledger.Store
	manager *credit.Manager
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:   "credit-cli",
		Short: "credit-cli - operator CLI for the credit core",
		Long: `credit-cli provides administrative operations for the credit core:
balance lookups, ledger history, manual payment admission, reconciliation,
and schema migrations.`,
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			switch cmd.Name() {
			case "migrate", "version", "help":
				return nil
			}

			var err error
			store, err = ledger.NewStoreFromURL(databaseURL, log.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize ledger store: %w", err)
			}

			pricingCfg := pricing.DefaultConfig()
			pricingCfg.SeedOperationCosts(pricing.DefaultOperationCosts())
			rateOracle := oracle.StaticRateOracle{Rate: 1.0 / pricingCfg.ConversionRate}
			manager = credit.NewManager(store, pricingCfg, rateOracle, network, log.Logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if manager != nil {
				manager.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", getEnv("DATABASE_URL", ""), "Ledger store URL (sqlite://, postgresql://, or empty for in-memory)")
	rootCmd.PersistentFlags().StringVar(&network, "network", getEnv("NETWORK", "mainnet"), "Network name passed to the rate oracle")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(balanceCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func balanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Balance operations",
		Long:  "Read account balances and sufficiency checks",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get an account's balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, _ := cmd.Flags().GetString("account-id")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			bal, err := store.GetBalance(ctx, accountID)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			printJSON(map[string]interface{}{
				"account_id":      bal.AccountID,
				"balance":         bal.Balance,
				"total_purchased": bal.TotalPurchased,
				"total_consumed":  bal.TotalConsumed,
				"updated_at":      bal.UpdatedAt.Format(time.RFC3339),
			})
			return nil
		},
	}
	getCmd.Flags().String("account-id", "", "Account ID (required)")
	getCmd.MarkFlagRequired("account-id")

	sufficiencyCmd := &cobra.Command{
		Use:   "sufficiency",
		Short: "Check whether an account can afford an operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, _ := cmd.Flags().GetString("account-id")
			op, _ := cmd.Flags().GetString("operation")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			res, err := manager.Sufficiency(ctx, accountID, op, pricing.CostOptions{NowUTCHour: time.Now().UTC().Hour()})
			if err != nil {
				return fmt.Errorf("sufficiency check failed: %w", err)
			}

			printJSON(map[string]interface{}{
				"account_id": accountID,
				"operation":  op,
				"sufficient": res.Sufficient,
				"current":    res.Current,
				"required":   res.Required,
				"shortfall":  res.Shortfall,
			})
			return nil
		},
	}
	sufficiencyCmd.Flags().String("account-id", "", "Account ID (required)")
	sufficiencyCmd.Flags().String("operation", "", "Operation name (required)")
	sufficiencyCmd.MarkFlagRequired("account-id")
	sufficiencyCmd.MarkFlagRequired("operation")

	cmd.AddCommand(getCmd, sufficiencyCmd)
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger operations",
		Long:  "Inspect append-only ledger history",
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List ledger entries for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, _ := cmd.Flags().GetString("account-id")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			entries, err := store.GetHistory(ctx, accountID, limit)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			out := make([]map[string]interface{}, 0, len(entries))
			for _, e := range entries {
				out = append(out, map[string]interface{}{
					"id":            e.ID,
					"kind":          e.Kind,
					"amount":        e.Amount,
					"balance_after": e.BalanceAfter,
					"description":   e.Description,
					"operation":     e.Operation,
					"payment_tx_id": e.PaymentTxID,
					"created_at":    e.CreatedAt.Format(time.RFC3339),
				})
			}
			printJSON(out)
			return nil
		},
	}
	historyCmd.Flags().String("account-id", "", "Account ID (required)")
	historyCmd.Flags().Int("limit", 20, "Maximum number of entries to return")
	historyCmd.MarkFlagRequired("account-id")

	costsCmd := &cobra.Command{
		Use:   "costs",
		Short: "List the seeded operation-cost catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			costs, err := store.ListOperationCosts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list operation costs: %w", err)
			}
			printJSON(costs)
			return nil
		},
	}

	cmd.AddCommand(historyCmd, costsCmd)
	return cmd
}

func paymentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Payment operations",
		Long:  "Look up and manually admit payments",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Find a payment by transaction id",
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, _ := cmd.Flags().GetString("tx-id")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			p, err := store.FindPayment(ctx, txID)
			if err != nil {
				return fmt.Errorf("failed to find payment: %w", err)
			}
			if p == nil {
				return fmt.Errorf("no payment found for tx id %s", txID)
			}
			printJSON(p)
			return nil
		},
	}
	getCmd.Flags().String("tx-id", "", "Transaction ID (required)")
	getCmd.MarkFlagRequired("tx-id")

	adminProcessCmd := &cobra.Command{
		Use:   "admin-process",
		Short: "Admit a payment using a flat conversion rate, bypassing the rate oracle",
		Long:  "The only path allowed to bypass the tiered pricing engine — callers compute creditsAllocated themselves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, _ := cmd.Flags().GetString("tx-id")
			payer, _ := cmd.Flags().GetString("payer")
			target, _ := cmd.Flags().GetString("target")
			amount, _ := cmd.Flags().GetFloat64("amount")
			credits, _ := cmd.Flags().GetInt64("credits")
			memo, _ := cmd.Flags().GetString("memo")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			applied, err := manager.AdminProcessPayment(ctx, ledger.Payment{
				TxID:   txID,
				Payer:  payer,
				Target: target,
				Amount: amount,
				Memo:   memo,
				Status: ledger.PaymentCompleted,
			}, credits)
			if err != nil {
				return fmt.Errorf("admin-process failed: %w", err)
			}

			printJSON(map[string]interface{}{"tx_id": txID, "applied": applied})
			return nil
		},
	}
	adminProcessCmd.Flags().String("tx-id", "", "Transaction ID (required)")
	adminProcessCmd.Flags().String("payer", "", "Payer account ID (required)")
	adminProcessCmd.Flags().String("target", "", "Beneficiary account ID, defaults to payer")
	adminProcessCmd.Flags().Float64("amount", 0, "Native-token amount (required)")
	adminProcessCmd.Flags().Int64("credits", 0, "Credits to allocate (required)")
	adminProcessCmd.Flags().String("memo", "", "Payment memo")
	adminProcessCmd.MarkFlagRequired("tx-id")
	adminProcessCmd.MarkFlagRequired("payer")
	adminProcessCmd.MarkFlagRequired("amount")
	adminProcessCmd.MarkFlagRequired("credits")

	cmd.AddCommand(getCmd, adminProcessCmd)
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconciliation operations",
	}

	runOnceCmd := &cobra.Command{
		Use:   "run-once",
		Short: "List currently pending payments without mutating them",
		Long:  "A read-only preview of what the background reconciler would pick up on its next tick.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			pending, err := store.ListPendingPayments(ctx)
			if err != nil {
				return fmt.Errorf("failed to list pending payments: %w", err)
			}
			printJSON(pending)
			return nil
		},
	}

	cmd.AddCommand(runOnceCmd)
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migration for the configured database",
		Long:  "Reads migrations/001_init_postgres.sql or migrations/001_init_sqlite.sql, chosen by --database-url's scheme, and executes it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url is required for migrate")
			}

			driver, dsn, migrationFile, err := migrationTarget(databaseURL)
			if err != nil {
				return err
			}

			sqlBytes, err := os.ReadFile(migrationFile)
			if err != nil {
				return fmt.Errorf("read migration file %s: %w", migrationFile, err)
			}

			db, err := sql.Open(driver, dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}

			if _, err := db.ExecContext(ctx, string(sqlBytes)); err != nil {
				return fmt.Errorf("apply migration %s: %w", migrationFile, err)
			}

			log.Info().Str("file", migrationFile).Msg("migration applied")
			return nil
		},
	}
}

// migrationTarget maps a databaseUrl to the (driver, dsn, migrationFile)
// triple, mirroring the scheme dispatch in ledger.NewSQLStore.
func migrationTarget(databaseURL string) (driver, dsn, migrationFile string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(databaseURL, "sqlite://"), "migrations/001_init_sqlite.sql", nil
	case strings.HasPrefix(databaseURL, "postgresql://"), strings.HasPrefix(databaseURL, "postgres://"):
		return "postgres", databaseURL, "migrations/001_init_postgres.sql", nil
	default:
		return "", "", "", fmt.Errorf("unrecognized database url scheme: %s", databaseURL)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Println(string(b))
}
