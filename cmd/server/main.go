/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Study-On billing server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (see config/config.go)
  2. Initialize logger and SQLite store
  3. Wire auth service, API handler and router
  4. Start the report scheduler
  5. Start server with graceful shutdown

CONFIGURATION:
  Environment variables; JWT_SECRET is mandatory. Flags:
  -seed    insert a demo admin, user and sample catalog, then continue

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the report scheduler
  4. Close database connection

EXAMPLES:
  JWT_SECRET=dev-secret ./server
  JWT_SECRET=dev-secret DB_PATH=:memory: ./server -seed

SEE ALSO:
  - api/server.go: router configuration
  - config/config.go: all knobs and defaults
  - store/sqlite/sqlite.go: database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/studyon/billing-engine/api"
	"github.com/studyon/billing-engine/auth"
	"github.com/studyon/billing-engine/billing"
	"github.com/studyon/billing-engine/config"
	"github.com/studyon/billing-engine/pkg/logger"
	"github.com/studyon/billing-engine/report"
	"github.com/studyon/billing-engine/store/sqlite"
)

func main() {
	seed := flag.Bool("seed", false, "insert demo accounts and catalog on startup")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	// Store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	if *seed {
		if err := seedFixtures(ctx, store); err != nil {
			log.Fatal().Err(err).Msg("seeding failed")
		}
		log.Info().Msg("demo fixtures loaded")
	}

	// Services
	authSvc := auth.NewService(store, cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	handler := api.NewHandler(store, authSvc, log)
	router := api.NewRouter(handler)

	// Reporting
	var mailer report.Mailer
	if cfg.SMTP.Addr != "" {
		mailer = &report.SMTPMailer{
			Addr:     cfg.SMTP.Addr,
			From:     cfg.SMTP.From,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		}
	} else {
		mailer = &report.LogMailer{Log: log}
	}
	reporter := &report.Reporter{
		Ledger:         store,
		Mailer:         mailer,
		Log:            log,
		AnalyticsEmail: cfg.Report.AnalyticsEmail,
	}
	scheduler := api.NewReportScheduler(reporter, cfg.Report.ExpiryNoticeLead, log)
	scheduler.Enabled = cfg.Report.SchedulerEnabled
	scheduler.Start()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	scheduler.Stop()

	log.Info().Msg("server stopped")
}

// seedFixtures inserts a demo admin, a demo user with a starting balance,
// and a small sample catalog. Safe to skip when rows already exist.
func seedFixtures(ctx context.Context, store billing.TxStore) error {
	accounts := []struct {
		email, password string
		roles           []string
		balance         decimal.Decimal
	}{
		{"admin@study-on.local", "admin-password", []string{billing.RoleUser, billing.RoleSuperAdmin}, decimal.Zero},
		{"user@study-on.local", "user-password", []string{billing.RoleUser}, decimal.NewFromInt(1000)},
	}
	for _, a := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(a.password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		err = store.CreateAccount(ctx, &billing.Account{
			Email:        a.email,
			PasswordHash: string(hash),
			Roles:        a.roles,
			Balance:      a.balance,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, billing.ErrEmailTaken) {
			return err
		}
	}

	courses := []billing.Course{
		{Code: "go-basics", Type: billing.CourseFree, Title: "Go Basics", Active: true},
		{Code: "sql-deep-dive", Type: billing.CourseRent, Title: "SQL Deep Dive",
			Cost: decimal.NewFromInt(30), RentDuration: 7 * 24 * time.Hour, Active: true},
		{Code: "distributed-systems", Type: billing.CourseBuy, Title: "Distributed Systems",
			Cost: decimal.NewFromInt(200), Active: true},
	}
	for i := range courses {
		err := store.CreateCourse(ctx, &courses[i])
		if err != nil && !errors.Is(err, billing.ErrDuplicateCode) {
			return err
		}
	}
	return nil
}
