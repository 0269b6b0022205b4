package main

import (
	"context"
	"time"

	"tally/internal/cache"
	"tally/internal/cli"
	"tally/internal/config"
	"tally/internal/ledger"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/session"
	"tally/internal/suggest"
)

const cacheCleanupInterval = 5 * time.Minute

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(config.Load().LogLevel, log.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	users := session.New(cfg.UserID)
	if _, ok := users.UserID(); !ok {
		logger.Warn("TALLY_USER_ID is empty, recurring records will not be loaded")
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	result := cli.InitBackend(startupCtx, logger, cfg)

	// Suggestion index: restore the snapshot, otherwise rebuild from the ledger.
	engine := suggest.New(suggest.Options{
		Path:     cfg.SuggestionsPath,
		Debounce: cfg.SuggestionDebounce,
		Logger:   logger,
	})
	warmSuggestions(startupCtx, logger, engine, result.Ledger)

	cacheManager := cache.NewManager()
	cacheManager.Register(engine)
	cacheManager.StartCleanup(cacheCleanupInterval)

	// Occurrences go to the ledger, the suggestion index and, when configured,
	// the AMQP exchange consumed by ledger-worker.
	var publisher services.Publisher
	if result.Publisher != nil {
		publisher = result.Publisher
		logger.Info("AMQP publishing enabled", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - transactions are only written locally")
	}
	transactions := services.NewTransactionService(result.Ledger, engine, publisher, users)
	manager := services.NewRecurringManager(result.Recurring, users, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		engine.Cancel()
		cacheManager.Stop()
		if err := engine.Save(); err != nil {
			logger.Error("Failed to save suggestions", log.FieldError, err)
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup failed", log.FieldError, err)
			}
		}
	})

	if err := manager.Load(ctx); err != nil {
		logger.Error("Failed to load recurring transactions", log.FieldError, err)
	} else {
		logger.Info("Recurring transactions loaded", log.FieldRecords, len(manager.All()))
	}

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		log.FieldBackend, cfg.LedgerBackend)

	// Run initial processing on startup
	process(ctx, logger, manager, transactions, time.Now())

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				process(ctx, logger, manager, transactions, now)
			}
		}
	}()

	cli.WaitForShutdown(ctx, done)
}

func process(ctx context.Context, logger *log.Logger, manager *services.RecurringManager, sink services.TransactionSink, now time.Time) {
	count, err := manager.ProcessPending(ctx, now, sink)
	if err != nil {
		logger.Error("Recurring processing failed", log.FieldError, err, log.FieldEmitted, count)
		return
	}
	logger.Info("Recurring processing complete", log.FieldEmitted, count)
}

func warmSuggestions(ctx context.Context, logger *log.Logger, engine *suggest.Engine, lister ledger.TransactionLister) {
	if err := engine.Load(); err != nil {
		logger.Warn("Suggestion snapshot unreadable, rebuilding", log.FieldError, err)
	}
	if engine.Len() > 0 {
		logger.Info("Suggestions restored from snapshot", log.FieldRecords, engine.Len())
		return
	}

	txs, err := lister.ListTransactions(ctx)
	if err != nil {
		logger.Warn("Failed to list ledger transactions for suggestions", log.FieldError, err)
		return
	}
	suggest.BuildFrom(engine, txs)
	logger.Info("Suggestions rebuilt from ledger", log.FieldRecords, engine.Len())
}
