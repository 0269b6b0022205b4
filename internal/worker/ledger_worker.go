package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tally/internal/amqp"
	"tally/internal/cache"
	"tally/internal/ledger"
	"tally/internal/log"
)

const (
	seenCacheSize = 1024
	seenCacheTTL  = 24 * time.Hour
)

var ErrNoWriter = errors.New("ledger worker has no writer")

// LedgerWorker appends transactions consumed from AMQP to a ledger. Delivery
// is at least once, so recurring occurrences already written by this process
// are skipped.
type LedgerWorker struct {
	writer ledger.TransactionWriter
	seen   *cache.LRUCache[string]
	logger *log.Logger
}

func NewLedgerWorker(writer ledger.TransactionWriter, logger *log.Logger) *LedgerWorker {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentWorker)
	}
	return &LedgerWorker{
		writer: writer,
		seen:   cache.NewLRUCache[string](seenCacheSize, seenCacheTTL),
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Seen exposes the dedup cache so the caller can register it for cleanup.
func (w *LedgerWorker) Seen() cache.Cleaner {
	return w.seen
}

// HandleTransactionMessage processes a single transaction message from AMQP.
// A returned error makes the consumer requeue the message.
func (w *LedgerWorker) HandleTransactionMessage(ctx context.Context, msg *amqp.TransactionMessage) error {
	if w.writer == nil {
		return ErrNoWriter
	}

	tx := msg.Transaction()
	key := occurrenceKey(msg)

	if key != "" {
		if ref, ok := w.seen.Get(key); ok {
			w.logger.InfoContext(ctx, "Skipping already written occurrence",
				log.FieldRecurringID, tx.RecurringID,
				log.FieldOccurrence, tx.Date.Format(time.RFC3339),
				"row", ref)
			return nil
		}
	}

	w.logger.InfoContext(ctx, "Processing transaction message",
		log.FieldUserID, msg.UserID,
		log.FieldTitle, tx.Title,
		log.FieldAmount, tx.Amount.String(),
		"timestamp", msg.Timestamp)

	ref, err := w.writer.Append(ctx, tx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to append transaction",
			log.FieldTitle, tx.Title,
			log.FieldError, err)
		return fmt.Errorf("append transaction: %w", err)
	}

	if key != "" {
		w.seen.Set(key, ref)
	}

	w.logger.InfoContext(ctx, "Transaction written to ledger",
		log.FieldTitle, tx.Title,
		"row", ref)
	return nil
}

// occurrenceKey identifies generated occurrences; manual entries have none.
func occurrenceKey(msg *amqp.TransactionMessage) string {
	if msg.RecurringID == "" {
		return ""
	}
	return msg.UserID + "|" + msg.RecurringID + "|" + msg.Date.UTC().Format(time.RFC3339Nano)
}
