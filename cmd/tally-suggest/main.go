package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"tally/internal/cli"
	"tally/internal/config"
	"tally/internal/log"
	"tally/internal/suggest"
)

// tally-suggest prints title suggestions for the text given as arguments,
// e.g. `tally-suggest star` after a few "Starbucks" entries.
func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(config.Load().LogLevel, log.ComponentSuggest)
	cfg := cli.LoadAndValidateConfig(logger)

	query := strings.Join(os.Args[1:], " ")
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: tally-suggest <text>")
		os.Exit(2)
	}

	engine := suggest.New(suggest.Options{
		Path:     cfg.SuggestionsPath,
		Debounce: cfg.SuggestionDebounce,
		Logger:   logger,
	})
	if err := engine.Load(); err != nil {
		logger.Warn("Suggestion snapshot unreadable", log.FieldError, err)
	}

	if engine.Len() == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		result := cli.InitBackend(ctx, logger, cfg)
		txs, err := result.Ledger.ListTransactions(ctx)
		if err != nil {
			logger.Error("Failed to list ledger transactions", log.FieldError, err)
			os.Exit(1)
		}
		suggest.BuildFrom(engine, txs)
		if result.Cleanup != nil {
			_ = result.Cleanup()
		}
	}

	results := make(chan []suggest.Item, 1)
	engine.QueryDebounced(query, cfg.SuggestionLimit, func(items []suggest.Item) {
		results <- items
	})

	items := <-results
	logger.Debug("Query complete", log.FieldQuery, query, log.FieldResults, len(items))
	for _, it := range items {
		category := it.CategoryID
		if category == "" {
			category = "-"
		}
		fmt.Printf("%-40s %-20s %4d  %s\n", it.Title, category, it.Frequency, it.LastUsed.Format("2006-01-02"))
	}
}
