// Package memory provides in-process ledger and recurring record stores.
// They back the "memory" ledger backend and stand in for real stores in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/ledger"
)

var _ ledger.Ledger = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	items []core.Transaction
}

func New() *Store {
	return &Store{}
}

// Append stores the transaction and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, tx)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// ListTransactions returns a copy of everything appended so far.
func (s *Store) ListTransactions(_ context.Context) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.items...), nil
}

// Len reports how many transactions were appended.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// RecurringStore keeps recurring records per user id. Err, when set, is
// returned by every call.
type RecurringStore struct {
	mu      sync.Mutex
	records map[string]map[uuid.UUID]core.RecurringTransaction
	Err     error
	upserts int
}

func NewRecurringStore() *RecurringStore {
	return &RecurringStore{records: make(map[string]map[uuid.UUID]core.RecurringTransaction)}
}

func (s *RecurringStore) FetchAll(_ context.Context, userID string) ([]core.RecurringTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]core.RecurringTransaction, 0, len(s.records[userID]))
	for _, rt := range s.records[userID] {
		out = append(out, rt)
	}
	return out, nil
}

func (s *RecurringStore) Upsert(_ context.Context, rt core.RecurringTransaction, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.records[userID] == nil {
		s.records[userID] = make(map[uuid.UUID]core.RecurringTransaction)
	}
	s.records[userID][rt.ID] = rt
	s.upserts++
	return nil
}

func (s *RecurringStore) Delete(_ context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.records[userID], id)
	return nil
}

// Get returns the stored copy of a record.
func (s *RecurringStore) Get(userID string, id uuid.UUID) (core.RecurringTransaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.records[userID][id]
	return rt, ok
}

// Upserts counts successful Upsert calls.
func (s *RecurringStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// SetErr makes every subsequent call fail with err (nil clears it).
func (s *RecurringStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}
