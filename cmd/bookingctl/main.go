package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pkgtravel/service-booking/internal/application"
	"github.com/pkgtravel/service-booking/internal/config"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/repository"
	"github.com/pkgtravel/service-booking/pkg/database"
	"github.com/pkgtravel/service-booking/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operator tooling for service-booking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("migrations", "migrations", "Directory holding the SQL migrations")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newQuoteCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type env struct {
	cfg *config.ServiceConfig
	log *zap.Logger
	db  database.PostgresConfig
}

func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewNamed(cfg.AppEnv, "bookingctl")
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return &env{
		cfg: cfg,
		log: log,
		db: database.PostgresConfig{
			Host:     cfg.DBConfig.Host,
			Port:     cfg.DBConfig.Port,
			User:     cfg.DBConfig.User,
			Password: cfg.DBConfig.Password,
			DBName:   cfg.DBConfig.DBName,
			SSLMode:  cfg.DBConfig.SSLMode,
		},
	}, nil
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			dir, _ := cmd.Flags().GetString("migrations")
			return database.RunMigrations(e.db.DatabaseURL(), dir, e.log)
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the last --steps migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			dir, _ := cmd.Flags().GetString("migrations")
			steps, _ := cmd.Flags().GetInt("steps")
			return database.RollbackMigrations(e.db.DatabaseURL(), dir, steps, e.log)
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to revert; 0 reverts all")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}

func newQuoteCmd() *cobra.Command {
	var req application.QuoteRequest
	var base, checkIn string

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a stay against the active markup rules",
		Example: "  bookingctl quote --base 200 --provider hotelbeds --property-type hotel " +
			"--destination PMI --check-in 2026-07-01",
		RunE: func(cmd *cobra.Command, _ []string) error {
			price, err := decimal.NewFromString(base)
			if err != nil {
				return fmt.Errorf("invalid --base %q: %w", base, err)
			}
			req.BasePrice = price
			if checkIn != "" {
				req.CheckIn = &checkIn
			}

			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()

			db, err := database.Connect(e.db, e.log)
			if err != nil {
				return err
			}

			rules := repository.NewGormRuleRepository(db)
			ruleCache := markup.NewRuleCache(rules, e.cfg.MarkupCacheTTL)
			svc := application.NewMarkupService(
				rules,
				repository.NewGormTransactor(db),
				markup.NewResolver(ruleCache),
				ruleCache,
				nil,
				e.cfg.InstanceID,
				e.log,
			)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			result, err := svc.Quote(ctx, req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	quoteCmd.Flags().StringVar(&base, "base", "", "Supplier base price")
	quoteCmd.Flags().StringVar(&req.Provider, "provider", "hotelbeds", "Supplier: hotelbeds or ownerrez")
	quoteCmd.Flags().StringVar(&req.PropertyType, "property-type", "", "Property type, e.g. hotel")
	quoteCmd.Flags().StringVar(&req.DestinationCode, "destination", "", "Destination code")
	quoteCmd.Flags().StringVar(&checkIn, "check-in", "", "Check-in date (YYYY-MM-DD)")
	_ = quoteCmd.MarkFlagRequired("base")

	return quoteCmd
}
