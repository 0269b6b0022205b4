package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"tally/internal/core"
	"tally/internal/ledger"
	"tally/internal/session"
	"tally/internal/suggest"
)

type (
	// Indexer learns transaction titles for type-ahead suggestions.
	Indexer interface {
		Upsert(tx suggest.TransactionLike)
	}

	// Publisher forwards recorded transactions to other processes.
	Publisher interface {
		PublishTransaction(ctx context.Context, userID string, tx core.Transaction) error
	}
)

var _ TransactionSink = (*TransactionService)(nil)

// TransactionService records transactions in the ledger, feeds the
// suggestion index and publishes each one when a publisher is configured.
type TransactionService struct {
	writer    ledger.TransactionWriter
	index     Indexer
	publisher Publisher
	users     session.UserIDProvider
}

// NewTransactionService wires the collaborators; index and publisher may be nil.
func NewTransactionService(writer ledger.TransactionWriter, index Indexer, publisher Publisher, users session.UserIDProvider) *TransactionService {
	return &TransactionService{
		writer:    writer,
		index:     index,
		publisher: publisher,
		users:     users,
	}
}

// RecordTransaction saves tx and returns the ledger's row reference. Only the
// ledger write can fail the call; indexing and publishing are best effort.
func (s *TransactionService) RecordTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if s.writer == nil {
		return "", errors.New("transaction service has no ledger writer")
	}
	ref, err := s.writer.Append(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("save transaction: %w", err)
	}

	if s.index != nil {
		s.index.Upsert(tx)
	}

	if err := s.publish(ctx, tx); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction",
			"ref", ref,
			"title", tx.Title,
			"error", err)
	}
	return ref, nil
}

// AddTransaction implements TransactionSink.
func (s *TransactionService) AddTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := s.RecordTransaction(ctx, tx)
	return err
}

func (s *TransactionService) publish(ctx context.Context, tx core.Transaction) error {
	if s.publisher == nil {
		return nil
	}
	userID, ok := "", false
	if s.users != nil {
		userID, ok = s.users.UserID()
	}
	if !ok {
		slog.WarnContext(ctx, "No authenticated user, skipping transaction message")
		return nil
	}
	return s.publisher.PublishTransaction(ctx, userID, tx)
}

// Close closes the ledger writer and the publisher when they hold resources.
func (s *TransactionService) Close() error {
	var errs []error
	if c, ok := s.writer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}
