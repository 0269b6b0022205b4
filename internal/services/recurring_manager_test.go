package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/ledger/memory"
	"tally/internal/log"
	"tally/internal/session"
)

type recordingSink struct {
	mu  sync.Mutex
	txs []core.Transaction
	err error
}

func (s *recordingSink) AddTransaction(_ context.Context, tx core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return s.err
}

func (s *recordingSink) dates() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.txs))
	for i, tx := range s.txs {
		out[i] = tx.Date
	}
	return out
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}

func newManager(t *testing.T) (*RecurringManager, *memory.RecurringStore) {
	t.Helper()
	repo := memory.NewRecurringStore()
	return NewRecurringManager(repo, session.New("alice"), log.Discard()), repo
}

func monthlyRent(t *testing.T, start time.Time, end *time.Time) core.RecurringTransaction {
	t.Helper()
	rt, err := core.NewRecurringTransaction(core.RecurringParams{
		Title:      "Rent",
		Type:       core.Expense,
		CategoryID: "housing",
		Amount:     decimal.RequireFromString("950.00"),
		StartDate:  start,
		EndDate:    end,
		Recurrence: core.NewMonthly(1, core.LastDayOfMonth),
	})
	if err != nil {
		t.Fatal(err)
	}
	return rt
}

func TestProcessPendingCatchUp(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)
	rt := monthlyRent(t, at(2024, time.January, 1), nil)
	if err := m.Create(ctx, rt); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	sink := &recordingSink{}
	n, err := m.ProcessPending(ctx, at(2024, time.April, 15), sink)
	if err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	if n != 4 {
		t.Fatalf("ProcessPending() emitted %d, want 4", n)
	}

	want := []time.Time{
		at(2024, time.January, 1),
		at(2024, time.February, 1),
		at(2024, time.March, 1),
		at(2024, time.April, 1),
	}
	got := sink.dates()
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
	if sink.txs[0].RecurringID != rt.ID.String() || !sink.txs[0].Amount.Equal(rt.Amount) {
		t.Errorf("unexpected transaction: %+v", sink.txs[0])
	}

	stored, ok := repo.Get("alice", rt.ID)
	if !ok || !stored.NextOccurrence.Equal(at(2024, time.May, 1)) {
		t.Errorf("persisted cursor = %v, want %v", stored.NextOccurrence, at(2024, time.May, 1))
	}
}

func TestProcessPendingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)
	if err := m.Create(ctx, monthlyRent(t, at(2024, time.January, 1), nil)); err != nil {
		t.Fatal(err)
	}

	now := at(2024, time.February, 10)
	sink := &recordingSink{}
	first, _ := m.ProcessPending(ctx, now, sink)
	upserts := repo.Upserts()

	second, err := m.ProcessPending(ctx, now, sink)
	if err != nil {
		t.Fatal(err)
	}
	if first != 2 || second != 0 {
		t.Errorf("emitted %d then %d, want 2 then 0", first, second)
	}
	if repo.Upserts() != upserts {
		t.Error("second pass persisted although no cursor moved")
	}
}

func TestProcessPendingExhaustsAtEndDate(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	end := at(2024, time.February, 15)
	rt := monthlyRent(t, at(2024, time.January, 1), &end)
	if err := m.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	n, _ := m.ProcessPending(ctx, at(2024, time.June, 1), sink)
	if n != 2 {
		t.Errorf("emitted %d, want 2 (Jan and Feb)", n)
	}

	got, _ := m.Get(rt.ID)
	if !got.Exhausted() {
		t.Fatalf("NextOccurrence = %v, want exhausted", got.NextOccurrence)
	}

	n, _ = m.ProcessPending(ctx, at(2030, time.January, 1), sink)
	if n != 0 {
		t.Errorf("exhausted record emitted %d occurrences", n)
	}
}

func TestProcessPendingSinkFailureStillAdvances(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	rt := monthlyRent(t, at(2024, time.January, 1), nil)
	if err := m.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{err: errors.New("ledger offline")}
	n, err := m.ProcessPending(ctx, at(2024, time.January, 20), sink)
	if err != nil || n != 1 {
		t.Fatalf("ProcessPending() = %d, %v, want 1, nil", n, err)
	}
	got, _ := m.Get(rt.ID)
	if !got.NextOccurrence.Equal(at(2024, time.February, 1)) {
		t.Errorf("cursor = %v, want Feb 1", got.NextOccurrence)
	}
}

func TestProcessPendingReportsPersistFailure(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)
	if err := m.Create(ctx, monthlyRent(t, at(2024, time.January, 1), nil)); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("write refused")
	repo.SetErr(boom)
	n, err := m.ProcessPending(ctx, at(2024, time.January, 2), &recordingSink{})
	if n != 1 {
		t.Errorf("emitted %d, want 1", n)
	}
	if !errors.Is(err, boom) {
		t.Errorf("ProcessPending() error = %v, want %v", err, boom)
	}
}

func TestProcessPendingStopsOnCancelledContext(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Create(context.Background(), monthlyRent(t, at(2024, time.January, 1), nil)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := m.ProcessPending(ctx, at(2024, time.June, 1), &recordingSink{})
	if n != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("ProcessPending() = %d, %v, want 0, context.Canceled", n, err)
	}
}

func TestEveryNDaysRecordsShareAPhase(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	for _, start := range []time.Time{at(2024, time.March, 1), at(2024, time.March, 4)} {
		rt, err := core.NewRecurringTransaction(core.RecurringParams{
			Title:      "Cleaning",
			Type:       core.Expense,
			Amount:     decimal.NewFromInt(40),
			StartDate:  start,
			Recurrence: core.NewEveryNDays(7),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Create(ctx, rt); err != nil {
			t.Fatal(err)
		}
	}

	sink := &recordingSink{}
	if _, err := m.ProcessPending(ctx, at(2024, time.May, 1), sink); err != nil {
		t.Fatal(err)
	}
	dates := sink.dates()
	if len(dates) == 0 {
		t.Fatal("no occurrences emitted")
	}
	phase := core.EpochDay(dates[0]) % 7
	for _, d := range dates {
		if core.EpochDay(d)%7 != phase {
			t.Errorf("occurrence %v is out of phase", d)
		}
	}
}

func TestUnauthenticatedCallsAreNoOps(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRecurringStore()
	m := NewRecurringManager(repo, session.Anonymous(), log.Discard())
	rt := monthlyRent(t, at(2024, time.January, 1), nil)

	if err := m.Create(ctx, rt); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Create() error = %v, want ErrUnauthenticated", err)
	}
	if err := m.Update(ctx, rt); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Update() error = %v, want ErrUnauthenticated", err)
	}
	if err := m.Delete(ctx, rt.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Delete() error = %v, want ErrUnauthenticated", err)
	}
	if err := m.Load(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Load() error = %v, want ErrUnauthenticated", err)
	}
	if n, err := m.ProcessPending(ctx, at(2025, time.January, 1), &recordingSink{}); n != 0 || !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("ProcessPending() = %d, %v", n, err)
	}
	if len(m.All()) != 0 || repo.Upserts() != 0 {
		t.Error("unauthenticated calls changed state")
	}
}

func TestSignOutStopsProcessing(t *testing.T) {
	ctx := context.Background()
	sess := session.New("alice")
	m := NewRecurringManager(memory.NewRecurringStore(), sess, log.Discard())
	if err := m.Create(ctx, monthlyRent(t, at(2024, time.January, 1), nil)); err != nil {
		t.Fatal(err)
	}

	sess.SignOut()
	sink := &recordingSink{}
	if _, err := m.ProcessPending(ctx, at(2024, time.March, 1), sink); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("ProcessPending() error = %v, want ErrUnauthenticated", err)
	}
	if len(sink.txs) != 0 {
		t.Errorf("emitted %d transactions after sign out", len(sink.txs))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	m, repo := newManager(t)
	rt := monthlyRent(t, at(2024, time.January, 10), nil)
	if err := m.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}
	if err := m.Create(ctx, rt); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}

	// Title change keeps the cursor.
	edited := rt.Clone()
	edited.Title = "Rent (new flat)"
	edited.NextOccurrence = nil
	if err := m.Update(ctx, edited); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := m.Get(rt.ID)
	if got.Title != "Rent (new flat)" || !got.NextOccurrence.Equal(*rt.NextOccurrence) {
		t.Errorf("after title edit: %+v", got)
	}

	// Rule change reschedules from the old cursor.
	edited = got.Clone()
	edited.Recurrence = core.NewMonthly(15, core.LastDayOfMonth)
	if err := m.Update(ctx, edited); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Get(rt.ID)
	if want := at(2024, time.February, 15); !got.NextOccurrence.Equal(want) {
		t.Errorf("rescheduled cursor = %v, want %v", got.NextOccurrence, want)
	}
	stored, _ := repo.Get("alice", rt.ID)
	if stored.Title != "Rent (new flat)" {
		t.Errorf("update not persisted: %+v", stored)
	}

	missing := monthlyRent(t, at(2024, time.January, 1), nil)
	if err := m.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
	if err := m.Delete(ctx, missing.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}

	if err := m.Delete(ctx, rt.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(m.All()) != 0 {
		t.Error("record still held after Delete")
	}
	if _, ok := repo.Get("alice", rt.ID); ok {
		t.Error("record still stored after Delete")
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRecurringStore()
	rt := monthlyRent(t, at(2024, time.January, 1), nil)
	if err := repo.Upsert(ctx, rt, "alice"); err != nil {
		t.Fatal(err)
	}

	m := NewRecurringManager(repo, session.New("alice"), log.Discard())
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if all := m.All(); len(all) != 1 || all[0].ID != rt.ID {
		t.Fatalf("All() = %+v", all)
	}

	boom := errors.New("network down")
	repo.SetErr(boom)
	if err := m.Load(ctx); !errors.Is(err, boom) {
		t.Errorf("Load() error = %v, want %v", err, boom)
	}
	if len(m.All()) != 0 {
		t.Error("failed Load should leave the collection empty")
	}
}

func TestAllReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	rt := monthlyRent(t, at(2024, time.January, 1), nil)
	if err := m.Create(ctx, rt); err != nil {
		t.Fatal(err)
	}

	all := m.All()
	*all[0].NextOccurrence = at(2099, time.January, 1)

	got, _ := m.Get(rt.ID)
	if !got.NextOccurrence.Equal(at(2024, time.January, 1)) {
		t.Errorf("All() leaked internal state: cursor is now %v", got.NextOccurrence)
	}
}
