package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/digkill/PhotoForge/internal/api"
	"github.com/digkill/PhotoForge/internal/config"
	"github.com/digkill/PhotoForge/internal/database"
	"github.com/digkill/PhotoForge/internal/kie"
	"github.com/digkill/PhotoForge/internal/notify"
	"github.com/digkill/PhotoForge/internal/provider"
	"github.com/digkill/PhotoForge/internal/replicate"
	"github.com/digkill/PhotoForge/internal/repository"
	"github.com/digkill/PhotoForge/internal/service"
	"github.com/digkill/PhotoForge/internal/storage"
	"github.com/digkill/PhotoForge/internal/webhook"
	"github.com/digkill/PhotoForge/pkg/logger"
)

type app struct {
	cfg  config.Config
	log  *slog.Logger
	db   *sql.DB
	deps api.Deps
}

// bootstrap loads config, connects and migrates the database.
func bootstrap(ctx context.Context) (config.Config, *slog.Logger, *sql.DB, database.Dialect, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, nil, database.Dialect{}, fmt.Errorf("config: %w", err)
	}
	logr := logger.New(cfg.LogLevel)

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return cfg, logr, nil, dialect, fmt.Errorf("database connect: %w", err)
	}
	if err := database.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return cfg, logr, nil, dialect, fmt.Errorf("database migrate: %w", err)
	}
	return cfg, logr, db, dialect, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logr, db, dialect, err := bootstrap(ctx)
	if err != nil {
		return nil, err
	}

	jobRepo := repository.NewJobRepository(db)
	accountRepo := repository.NewAccountRepository(db, dialect)
	planRepo := repository.NewPlanRepository(db)

	policy := webhook.Policy{Production: cfg.IsProduction(), Log: logr}
	var (
		clients   []provider.Provider
		verifiers = map[string]webhook.Verifier{}
	)
	if cfg.ReplicateAPIToken != "" {
		v, err := policy.Standard(replicate.Name, cfg.ReplicateWebhookSecret)
		if err != nil {
			db.Close()
			return nil, err
		}
		clients = append(clients, replicate.NewClient(cfg, logr))
		verifiers[replicate.Name] = v
	}
	if cfg.KIEAPIKey != "" {
		clients = append(clients, kie.NewClient(cfg, logr))
	}
	providers := provider.NewRegistry(clients...)
	if _, err := providers.Get(cfg.GenerationProvider); err != nil {
		db.Close()
		return nil, fmt.Errorf("generation provider: %w", err)
	}

	store, err := storage.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	notifier, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.AlertChatID, logr)
	if err != nil {
		logr.Warn("payment alerts disabled", "err", err)
		notifier = notify.Nop{}
	}

	paymentVerifier, err := policy.HexHMAC(cfg.PaymentProvider, cfg.PaymentWebhookSecret, "X-Signature")
	if err != nil {
		db.Close()
		return nil, err
	}

	accountService := service.NewAccountService(accountRepo)
	planService := service.NewPlanService(planRepo)
	finalizer := service.NewFinalizer(cfg, logr, jobRepo, store)
	reconciler := service.NewReconciler(cfg, logr, jobRepo, providers, finalizer)

	deps := api.Deps{
		Jobs:                service.NewJobService(cfg, logr, jobRepo, accountService, providers, reconciler),
		Reconciler:          reconciler,
		Ledger:              service.NewLedgerService(cfg.PaymentProvider, logr, accountRepo, planService, notifier),
		Accounts:            accountService,
		Plans:               planService,
		Sweeper:             service.NewSweeper(cfg, logr, jobRepo, reconciler),
		GenerationVerifiers: verifiers,
		PaymentVerifier:     paymentVerifier,
	}
	if cfg.StorageDriver == config.StorageFilesystem {
		deps.FilesDir = cfg.StoragePath
	}

	return &app{
		cfg:  cfg,
		log:  logr,
		db:   db,
		deps: deps,
	}, nil
}
