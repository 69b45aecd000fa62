// Package main is the entry point for the watchdeck rule evaluation and
// notification service. It tracks instrument cards through a watch workflow,
// evaluates user-defined rules against live market data, and notifies users
// when rules fire.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/clients/marketdata"
	"github.com/aquilalabs/watchdeck/internal/config"
	"github.com/aquilalabs/watchdeck/internal/database"
	"github.com/aquilalabs/watchdeck/internal/domain"
	"github.com/aquilalabs/watchdeck/internal/engine"
	"github.com/aquilalabs/watchdeck/internal/modules/audit"
	"github.com/aquilalabs/watchdeck/internal/modules/cards"
	"github.com/aquilalabs/watchdeck/internal/modules/executions"
	"github.com/aquilalabs/watchdeck/internal/modules/indicators"
	"github.com/aquilalabs/watchdeck/internal/modules/notify"
	"github.com/aquilalabs/watchdeck/internal/modules/rules"
	"github.com/aquilalabs/watchdeck/internal/reliability"
	"github.com/aquilalabs/watchdeck/internal/scheduler"
	"github.com/aquilalabs/watchdeck/internal/server"
	"github.com/aquilalabs/watchdeck/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("failed to load configuration:", err.Error())
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting watchdeck")

	// Databases. deck holds live entities, ledger the execution trail,
	// archive the cold audit store, history prices and snapshots.
	deckDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "deck.db"), Profile: database.ProfileStandard, Name: "deck",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open deck database")
	}
	defer deckDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "ledger.db"), Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	archiveDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "archive.db"), Profile: database.ProfileLedger, Name: "archive",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open archive database")
	}
	defer archiveDB.Close()

	historyDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "history.db"), Profile: database.ProfileStandard, Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	allDBs := []*database.DB{deckDB, ledgerDB, archiveDB, historyDB}
	for _, db := range allDBs {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Failed to migrate database")
		}
	}

	// Repositories.
	cardRepo := cards.NewRepository(deckDB.Conn(), log)
	ruleRepo := rules.NewRepository(deckDB.Conn(), log)
	auditRepo := audit.NewRepository(deckDB.Conn(), log)
	archiveRepo := audit.NewArchiveRepository(archiveDB.Conn(), log)
	executionRepo := executions.NewRepository(ledgerDB.Conn(), log)
	notificationRepo := notify.NewRepository(deckDB.Conn(), log)
	historyRepo := indicators.NewHistoryRepository(historyDB.Conn(), log)
	snapshotRepo := indicators.NewSnapshotRepository(historyDB.Conn(), log)

	// Services.
	cardService := cards.NewService(deckDB, cardRepo, auditRepo, log)
	ruleService := rules.NewService(ruleRepo, log)
	indicatorService := indicators.NewService(historyRepo, log)
	archiver := audit.NewArchiver(auditRepo, archiveRepo, cfg.AuditRetention, log)

	// Notification pipeline.
	hub := notify.NewHub(log)
	dispatcher := notify.NewDispatcher(
		notificationRepo,
		executionRepo,
		[]notify.Transport{hub},
		cfg.DispatchWorkers,
		cfg.DispatchRetries,
		log,
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	// Rule engine. Manual status changes share its per-card lock.
	ruleEngine := engine.New(cardRepo, ruleRepo, cardService, executionRepo, indicatorService, snapshotRepo, dispatcher, log)
	cardService.SetLocker(ruleEngine)

	// Market data client and scheduled jobs.
	quoteClient := marketdata.NewClient(cfg.MarketDataURL, cfg.MarketDataAPIKey, log)

	var uploader scheduler.ArchiveUploader
	if cfg.Archive.Bucket != "" {
		s3Client, err := reliability.NewS3Client(
			cfg.Archive.Endpoint,
			cfg.Archive.Region,
			cfg.Archive.AccessKey,
			cfg.Archive.SecretKey,
			cfg.Archive.Bucket,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create archive object store client")
		}
		uploader = reliability.NewArchiveUploadService(s3Client, archiveDB, cfg.DataDir, log)
	}

	sched := scheduler.New(log)
	sweepJob := scheduler.NewSweepJob(cardRepo, quoteClient, snapshotRepo, historyRepo, ruleEngine, cfg.DispatchWorkers, log)
	if err := sched.AddJob(cfg.SweepSchedule, sweepJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register sweep job")
	}
	if err := sched.AddJob("0 0 2 * * *", scheduler.NewArchiveJob(archiver, uploader, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register archive job")
	}
	if err := sched.AddJob("@hourly", scheduler.NewMaintenanceJob(allDBs, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}
	sched.Start()
	defer sched.Stop()

	// HTTP server.
	srv := server.New(server.Config{
		Port:          cfg.Port,
		DevMode:       cfg.DevMode,
		Log:           log,
		Cards:         cards.NewHandlers(cardService, statusChangePublisher{engine: ruleEngine, log: log}, log),
		Rules:         rules.NewHandlers(ruleService, log),
		Audit:         audit.NewHandlers(auditRepo, archiveRepo, cardRepo, log),
		Executions:    executions.NewHandlers(executionRepo, log),
		Notifications: notify.NewHandlers(notificationRepo, log),
		Hub:           hub,
		System:        server.NewSystemHandlers(allDBs, cfg.DataDir, hub, log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// statusChangePublisher feeds manual status changes into rule processing
// without blocking the HTTP request.
type statusChangePublisher struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// PublishStatusChange implements cards.EventPublisher.
func (p statusChangePublisher) PublishStatusChange(_ context.Context, cardID, traceID string) {
	go func() {
		event := &engine.Event{
			Trigger: domain.TriggerStatusChange,
			CardID:  cardID,
			TraceID: traceID,
		}
		if err := p.engine.ProcessEvent(context.Background(), event); err != nil {
			p.log.Error().Err(err).Str("card_id", cardID).Msg("Status change rule processing failed")
		}
	}()
}
