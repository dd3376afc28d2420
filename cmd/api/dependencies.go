package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/envelopefin/envelope-api/internal/domain/envelope"
	importhandler "github.com/envelopefin/envelope-api/internal/domain/import/handler"
	importrepo "github.com/envelopefin/envelope-api/internal/domain/import/repository"
	importservice "github.com/envelopefin/envelope-api/internal/domain/import/service"
	"github.com/envelopefin/envelope-api/internal/domain/transaction"
	"github.com/envelopefin/envelope-api/pkg/auth"
	"github.com/envelopefin/envelope-api/pkg/config"
	"github.com/envelopefin/envelope-api/pkg/cron"
	"github.com/envelopefin/envelope-api/pkg/db"
	"github.com/envelopefin/envelope-api/pkg/jobs"
	"github.com/envelopefin/envelope-api/pkg/mailer"
	"github.com/envelopefin/envelope-api/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	ImportRepo      importrepo.ImportRepository
	TransactionRepo transaction.Repository
	EnvelopeRepo    envelope.Repository

	// Services
	EnvelopeResolver *envelope.Resolver
	ImportService    *importservice.Service
	Notifier         mailer.Notifier
	WorkerPool       *jobs.Pool
	Metrics          *metrics.Metrics
	Registry         *prometheus.Registry
	Scheduler        *cron.Scheduler
	Verifier         auth.Verifier

	// Handlers
	ImportHandler *importhandler.Handler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.ImportRepo = importrepo.NewPostgresRepository(d.DB.Pool)
	d.TransactionRepo = transaction.NewPostgresRepository(d.DB.Pool)
	d.EnvelopeRepo = envelope.NewPostgresRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices() error {
	if d.Config.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}
	d.Verifier = auth.NewJWTVerifier([]byte(d.Config.Auth.JWTSecret))

	d.EnvelopeResolver = envelope.NewResolver(d.EnvelopeRepo, d.Logger)

	d.WorkerPool = jobs.NewPool(d.Config.Import.Workers, d.Config.Import.QueueSize, d.Logger)

	d.Registry = prometheus.NewRegistry()
	d.Metrics = metrics.New(d.Registry)

	if d.Config.Email.ResendAPIKey != "" && d.Config.Email.NotifyAddress != "" {
		d.Notifier = mailer.NewResendMailer(
			d.Config.Email.ResendAPIKey,
			d.Config.Email.FromAddress,
			d.Config.Email.NotifyAddress,
			d.Logger,
		)
	} else {
		d.Notifier = mailer.NoopNotifier{}
	}

	d.ImportService = importservice.New(
		d.ImportRepo,
		d.TransactionRepo,
		d.EnvelopeResolver,
		d.WorkerPool,
		d.Metrics,
		d.Notifier,
		otel.Tracer("envelope-api/import"),
		d.Logger,
		d.Config.Import.MaxUploadBytes,
	)

	d.Scheduler = cron.NewScheduler(
		d.ImportRepo,
		d.Config.Import.SweepSchedule,
		d.Config.Import.StalledAfter,
		d.Logger,
	)

	d.Logger.Info("services initialized")
	return nil
}

func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.New(d.ImportService, d.Logger)

	d.Logger.Info("handlers initialized")
}
