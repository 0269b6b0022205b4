// Package ledger declares the outbound ports through which recorded
// transactions reach durable storage.
package ledger

import (
	"context"

	"tally/internal/core"
)

// Ports for outbound adapters.
type (
	TransactionWriter interface {
		Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
	}

	// TransactionLister returns every recorded transaction, oldest first.
	// The suggestion index is rebuilt from it when no snapshot exists.
	TransactionLister interface {
		ListTransactions(ctx context.Context) ([]core.Transaction, error)
	}

	// Ledger is a writer that can also list what it stored.
	Ledger interface {
		TransactionWriter
		TransactionLister
	}
)
