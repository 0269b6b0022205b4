package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/session"
)

// maxConcurrentUpserts bounds the batched write after a catch-up pass.
const maxConcurrentUpserts = 4

var (
	ErrUnauthenticated = errors.New("no authenticated user")
	ErrNotFound        = errors.New("recurring transaction not found")
	ErrAlreadyExists   = errors.New("recurring transaction already exists")
)

type (
	// Repository is the document store holding recurring records per user.
	Repository interface {
		FetchAll(ctx context.Context, userID string) ([]core.RecurringTransaction, error)
		Upsert(ctx context.Context, rt core.RecurringTransaction, userID string) error
		Delete(ctx context.Context, id uuid.UUID, userID string) error
	}

	// TransactionSink records generated occurrences.
	TransactionSink interface {
		AddTransaction(ctx context.Context, tx core.Transaction) error
	}

	// TransactionSinkFunc adapts a function to TransactionSink.
	TransactionSinkFunc func(ctx context.Context, tx core.Transaction) error
)

func (f TransactionSinkFunc) AddTransaction(ctx context.Context, tx core.Transaction) error {
	return f(ctx, tx)
}

// RecurringManager owns the recurring records of one session and generates
// their due occurrences. All methods are safe for concurrent use; calls are
// serialised.
type RecurringManager struct {
	mu     sync.Mutex
	repo   Repository
	users  session.UserIDProvider
	logger *log.Logger
	now    func() time.Time
	items  []core.RecurringTransaction
}

func NewRecurringManager(repo Repository, users session.UserIDProvider, logger *log.Logger) *RecurringManager {
	if logger == nil {
		logger = log.FromSlog(nil, log.ComponentRecurring)
	}
	return &RecurringManager{
		repo:   repo,
		users:  users,
		logger: logger.WithComponent(log.ComponentRecurring),
		now:    time.Now,
	}
}

func (m *RecurringManager) userID(ctx context.Context, op string) (string, error) {
	if m.users != nil {
		if id, ok := m.users.UserID(); ok {
			return id, nil
		}
	}
	m.logger.WarnContext(ctx, "Ignoring call without authenticated user", log.FieldOperation, op)
	return "", ErrUnauthenticated
}

// Create adds rt to the collection and persists it. A record without a cursor
// is scheduled from its start date first. The record stays in memory when the
// repository write fails; the error is returned.
func (m *RecurringManager) Create(ctx context.Context, rt core.RecurringTransaction) error {
	userID, err := m.userID(ctx, log.OpCreate)
	if err != nil {
		return err
	}
	if err := rt.Validate(); err != nil {
		return fmt.Errorf("create recurring transaction: %w", err)
	}
	if rt.ID == uuid.Nil {
		rt.ID = uuid.New()
	}
	if rt.NextOccurrence == nil {
		rt.Reschedule(rt.StartDate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(rt.ID) >= 0 {
		return fmt.Errorf("create %s: %w", rt.ID, ErrAlreadyExists)
	}
	m.items = append(m.items, rt.Clone())

	if err := m.repo.Upsert(ctx, rt, userID); err != nil {
		m.logger.ErrorContext(ctx, "Failed to persist new recurring transaction",
			log.FieldRecurringID, rt.ID,
			log.FieldUserID, userID,
			log.FieldError, err)
		return fmt.Errorf("persist recurring transaction: %w", err)
	}

	m.logger.InfoContext(ctx, "Recurring transaction created",
		log.FieldRecurringID, rt.ID,
		log.FieldTitle, rt.Title,
		log.FieldNext, rt.NextOccurrence)
	return nil
}

// Update replaces the record with the same id. The cursor is recomputed when
// the schedule (start, end or rule) changed, starting from the old cursor so
// occurrences already emitted are not generated again; otherwise the stored
// cursor is kept.
func (m *RecurringManager) Update(ctx context.Context, rt core.RecurringTransaction) error {
	userID, err := m.userID(ctx, log.OpUpdate)
	if err != nil {
		return err
	}
	if err := rt.Validate(); err != nil {
		return fmt.Errorf("update recurring transaction: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(rt.ID)
	if i < 0 {
		return fmt.Errorf("update %s: %w", rt.ID, ErrNotFound)
	}
	existing := m.items[i]

	if scheduleChanged(existing, rt) {
		from := m.now()
		if existing.NextOccurrence != nil {
			from = *existing.NextOccurrence
		}
		rt.Reschedule(from)
	} else {
		rt.NextOccurrence = existing.Clone().NextOccurrence
	}
	m.items[i] = rt.Clone()

	if err := m.repo.Upsert(ctx, rt, userID); err != nil {
		m.logger.ErrorContext(ctx, "Failed to persist updated recurring transaction",
			log.FieldRecurringID, rt.ID,
			log.FieldUserID, userID,
			log.FieldError, err)
		return fmt.Errorf("persist recurring transaction: %w", err)
	}
	return nil
}

// Delete removes the record locally and from the repository.
func (m *RecurringManager) Delete(ctx context.Context, id uuid.UUID) error {
	userID, err := m.userID(ctx, log.OpDelete)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	m.items = append(m.items[:i], m.items[i+1:]...)

	if err := m.repo.Delete(ctx, id, userID); err != nil {
		m.logger.ErrorContext(ctx, "Failed to delete recurring transaction",
			log.FieldRecurringID, id,
			log.FieldUserID, userID,
			log.FieldError, err)
		return fmt.Errorf("delete recurring transaction: %w", err)
	}
	return nil
}

// All returns a copy of the records currently held.
func (m *RecurringManager) All() []core.RecurringTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]core.RecurringTransaction, len(m.items))
	for i, rt := range m.items {
		out[i] = rt.Clone()
	}
	return out
}

// Get returns a copy of the record with the given id.
func (m *RecurringManager) Get(id uuid.UUID) (core.RecurringTransaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.indexOf(id); i >= 0 {
		return m.items[i].Clone(), true
	}
	return core.RecurringTransaction{}, false
}

// Load replaces the collection with the user's stored records. Records stored
// without a cursor are scheduled from their start date. When the repository
// fails the collection is emptied and the error is returned, so callers can
// tell an empty collection from a failed load.
func (m *RecurringManager) Load(ctx context.Context) error {
	userID, err := m.userID(ctx, log.OpLoad)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	loaded, err := m.repo.FetchAll(ctx, userID)
	if err != nil {
		m.items = nil
		m.logger.ErrorContext(ctx, "Failed to load recurring transactions, starting empty",
			log.FieldUserID, userID,
			log.FieldError, err)
		return fmt.Errorf("load recurring transactions: %w", err)
	}

	m.items = make([]core.RecurringTransaction, 0, len(loaded))
	for _, rt := range loaded {
		if rt.NeedsSchedule() {
			rt.Reschedule(rt.StartDate)
		}
		m.items = append(m.items, rt.Clone())
	}

	m.logger.InfoContext(ctx, "Recurring transactions loaded",
		log.FieldUserID, userID,
		log.FieldRecords, len(m.items))
	return nil
}

// ProcessPending emits every occurrence due at or before now to sink,
// advancing each cursor past now (or exhausting it at the end date). Records
// are then persisted in one batch when any cursor moved.
//
// Sink failures are logged and do not stop the cursor: delivery is
// at-least-once and emitted occurrences are never rolled back. It returns the
// number of emitted occurrences and the joined persistence errors.
func (m *RecurringManager) ProcessPending(ctx context.Context, now time.Time, sink TransactionSink) (int, error) {
	userID, err := m.userID(ctx, log.OpProcess)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	emitted := 0
	changed := false
	var stopErr error

records:
	for i := range m.items {
		rt := &m.items[i]
		for rt.DueBy(now) {
			if err := ctx.Err(); err != nil {
				stopErr = err
				break records
			}

			tx := rt.Occurrence()
			if err := sink.AddTransaction(ctx, tx); err != nil {
				m.logger.ErrorContext(ctx, "Sink rejected generated transaction",
					log.FieldRecurringID, rt.ID,
					log.FieldOccurrence, tx.Date,
					log.FieldError, err)
			}
			emitted++
			changed = true

			if !rt.Advance() {
				m.logger.InfoContext(ctx, "Recurring transaction exhausted",
					log.FieldRecurringID, rt.ID,
					log.FieldTitle, rt.Title)
			}
		}
	}

	if !changed {
		return 0, stopErr
	}

	m.logger.InfoContext(ctx, "Generated due occurrences",
		log.FieldUserID, userID,
		log.FieldEmitted, emitted,
		log.FieldRecords, len(m.items))

	// Cursors must follow what was emitted even when the caller gave up.
	persistErr := m.persistAll(context.WithoutCancel(ctx), userID)
	return emitted, errors.Join(stopErr, persistErr)
}

func (m *RecurringManager) persistAll(ctx context.Context, userID string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(maxConcurrentUpserts)

	for _, rt := range m.items {
		rt := rt.Clone()
		g.Go(func() error {
			if err := m.repo.Upsert(ctx, rt, userID); err != nil {
				m.logger.ErrorContext(ctx, "Failed to persist advanced cursor",
					log.FieldRecurringID, rt.ID,
					log.FieldUserID, userID,
					log.FieldError, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("persist %s: %w", rt.ID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (m *RecurringManager) indexOf(id uuid.UUID) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func scheduleChanged(a, b core.RecurringTransaction) bool {
	if !a.StartDate.Equal(b.StartDate) {
		return true
	}
	if (a.EndDate == nil) != (b.EndDate == nil) {
		return true
	}
	if a.EndDate != nil && !a.EndDate.Equal(*b.EndDate) {
		return true
	}
	ra, errA := core.MarshalRule(a.Recurrence)
	rb, errB := core.MarshalRule(b.Recurrence)
	if errA != nil || errB != nil {
		return true
	}
	return !bytes.Equal(ra, rb)
}
