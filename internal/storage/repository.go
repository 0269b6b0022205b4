package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/ledger"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

var _ ledger.Ledger = (*SQLiteRepository)(nil)

// SQLiteRepository stores recurring records as JSON documents keyed by
// (user id, record id) and keeps the ledger of recorded transactions.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// FetchAll returns every recurring record of userID. Documents that no longer
// decode are logged and skipped.
func (r *SQLiteRepository) FetchAll(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document FROM recurring_transactions WHERE user_id = ? ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query recurring transactions: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan recurring transaction: %w", err)
		}
		var rt core.RecurringTransaction
		if err := json.Unmarshal([]byte(doc), &rt); err != nil {
			slog.WarnContext(ctx, "Skipping undecodable recurring transaction",
				"id", id,
				"user_id", userID,
				"error", err)
			continue
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recurring transactions: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces the record of userID.
func (r *SQLiteRepository) Upsert(ctx context.Context, rt core.RecurringTransaction, userID string) error {
	doc, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("encode recurring transaction %s: %w", rt.ID, err)
	}

	var next sql.NullString
	if rt.NextOccurrence != nil {
		next = sql.NullString{String: rt.NextOccurrence.UTC().Format(timeLayout), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions (user_id, id, document, next_occurrence)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			document = excluded.document,
			next_occurrence = excluded.next_occurrence,
			updated_at = CURRENT_TIMESTAMP`,
		userID, rt.ID.String(), string(doc), next)
	if err != nil {
		return fmt.Errorf("upsert recurring transaction %s: %w", rt.ID, err)
	}
	return nil
}

// Delete removes the record; deleting a missing record is not an error.
func (r *SQLiteRepository) Delete(ctx context.Context, id uuid.UUID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_transactions WHERE user_id = ? AND id = ?`,
		userID, id.String())
	if err != nil {
		return fmt.Errorf("delete recurring transaction %s: %w", id, err)
	}
	return nil
}

// Append implements ledger.TransactionWriter
func (r *SQLiteRepository) Append(ctx context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (title, type, category_id, amount, occurred_at, recurring_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tx.Title, string(tx.Type), tx.CategoryID, tx.Amount.String(),
		tx.Date.Format(timeLayout), tx.RecurringID)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("last insert id: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved to SQLite",
		"id", id,
		"title", tx.Title,
		"amount", core.FormatAmount(tx.Amount),
		"recurring_id", tx.RecurringID)

	return strconv.FormatInt(id, 10), nil
}

// ListTransactions implements ledger.TransactionLister
func (r *SQLiteRepository) ListTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT title, type, category_id, amount, occurred_at, recurring_id
		FROM transactions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			tx               core.Transaction
			kind, amount, at string
		)
		if err := rows.Scan(&tx.Title, &kind, &tx.CategoryID, &amount, &at, &tx.RecurringID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Type = core.TransactionType(kind)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount %q: %w", amount, err)
		}
		if tx.Date, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("parse date %q: %w", at, err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}
