package main

import (
	"context"
	"os"
	"time"

	"tally/internal/amqp"
	"tally/internal/cache"
	"tally/internal/cli"
	"tally/internal/config"
	gledger "tally/internal/ledger/google"
	"tally/internal/log"
	"tally/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(config.Load().LogLevel, log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by ledger-worker")
		os.Exit(1)
	}
	if err := cfg.ValidateSheets(); err != nil {
		logger.Error("Google Sheets configuration invalid", log.FieldError, err)
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	sheetsClient, err := gledger.NewClient(initCtx, gledger.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	initCancel()
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	ledgerWorker := worker.NewLedgerWorker(sheetsClient, logger)

	cacheManager := cache.NewManager()
	cacheManager.Register(ledgerWorker.Seen())
	cacheManager.StartCleanup(time.Hour)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		cacheManager.Stop()
		if err := amqpClient.Close(); err != nil {
			logger.Error("Failed to close AMQP client", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("Consuming transactions",
			"exchange", cfg.AMQPExchange,
			"queue", cfg.AMQPQueue)
		if err := amqpClient.ConsumeTransactions(ctx, ledgerWorker.HandleTransactionMessage); err != nil && ctx.Err() == nil {
			logger.Error("AMQP consumer stopped", log.FieldError, err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
