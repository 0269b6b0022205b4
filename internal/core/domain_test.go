package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validParams() RecurringParams {
	return RecurringParams{
		Title:      "Rent",
		Type:       Expense,
		CategoryID: "housing",
		Amount:     decimal.RequireFromString("950.00"),
		StartDate:  date(2024, time.January, 20, 9, 0),
		Recurrence: NewMonthly(1, LastDayOfMonth),
	}
}

func TestNewRecurringTransaction(t *testing.T) {
	rt, err := NewRecurringTransaction(validParams())
	if err != nil {
		t.Fatalf("NewRecurringTransaction() error: %v", err)
	}
	if rt.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected a generated id")
	}
	if rt.NextOccurrence == nil {
		t.Fatal("expected a scheduled first occurrence")
	}
	if want := date(2024, time.February, 1, 9, 0); !rt.NextOccurrence.Equal(want) {
		t.Errorf("NextOccurrence = %v, want %v", *rt.NextOccurrence, want)
	}
}

func TestNewRecurringTransactionEndBeforeFirstOccurrence(t *testing.T) {
	p := validParams()
	end := date(2024, time.January, 25, 0, 0)
	p.EndDate = &end

	rt, err := NewRecurringTransaction(p)
	if err != nil {
		t.Fatalf("NewRecurringTransaction() error: %v", err)
	}
	if !rt.Exhausted() {
		t.Errorf("expected exhausted record, next = %v", *rt.NextOccurrence)
	}
}

func TestRecurringTransactionValidate(t *testing.T) {
	before := date(2023, time.December, 1, 0, 0)

	tests := []struct {
		name   string
		mutate func(*RecurringParams)
		want   error
	}{
		{"empty title", func(p *RecurringParams) { p.Title = "  " }, ErrEmptyTitle},
		{"zero amount", func(p *RecurringParams) { p.Amount = decimal.Zero }, ErrInvalidAmount},
		{"negative amount", func(p *RecurringParams) { p.Amount = decimal.NewFromInt(-5) }, ErrInvalidAmount},
		{"bad type", func(p *RecurringParams) { p.Type = "transfer" }, ErrInvalidType},
		{"zero start", func(p *RecurringParams) { p.StartDate = time.Time{} }, ErrZeroStartDate},
		{"end before start", func(p *RecurringParams) { p.EndDate = &before }, ErrEndBeforeStart},
		{"missing rule", func(p *RecurringParams) { p.Recurrence = nil }, ErrNoRecurrence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			_, err := NewRecurringTransaction(p)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewRecurringTransaction() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAdvanceAndDueBy(t *testing.T) {
	p := validParams()
	end := date(2024, time.March, 15, 0, 0)
	p.EndDate = &end
	rt, err := NewRecurringTransaction(p)
	if err != nil {
		t.Fatal(err)
	}

	if rt.DueBy(date(2024, time.January, 31, 0, 0)) {
		t.Error("record should not be due before its first occurrence")
	}
	if !rt.DueBy(date(2024, time.February, 1, 9, 0)) {
		t.Error("record should be due exactly at its occurrence")
	}

	if !rt.Advance() {
		t.Fatal("Advance() to March should succeed")
	}
	if want := date(2024, time.March, 1, 9, 0); !rt.NextOccurrence.Equal(want) {
		t.Errorf("NextOccurrence = %v, want %v", *rt.NextOccurrence, want)
	}
	if rt.Advance() {
		t.Error("Advance() past the end date should exhaust the record")
	}
	if rt.DueBy(date(2030, time.January, 1, 0, 0)) {
		t.Error("exhausted record can never be due")
	}
}

func TestReschedule(t *testing.T) {
	rt, err := NewRecurringTransaction(validParams())
	if err != nil {
		t.Fatal(err)
	}
	rt.Recurrence = NewWeeklyOn(Friday)
	rt.Reschedule(date(2024, time.March, 4, 9, 0))

	if want := date(2024, time.March, 8, 9, 0); !rt.NextOccurrence.Equal(want) {
		t.Errorf("NextOccurrence = %v, want %v", *rt.NextOccurrence, want)
	}

	// from before the start date is ignored
	rt.Reschedule(date(2020, time.January, 1, 0, 0))
	if rt.NextOccurrence.Before(rt.StartDate) {
		t.Errorf("NextOccurrence %v precedes StartDate %v", *rt.NextOccurrence, rt.StartDate)
	}
}

func TestRecurringTransactionJSON(t *testing.T) {
	p := validParams()
	p.Metadata = map[string]string{"source": "receipt"}
	rt, err := NewRecurringTransaction(p)
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(rt)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var got RecurringTransaction
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if got.ID != rt.ID || got.Title != rt.Title || got.CategoryID != rt.CategoryID {
		t.Errorf("identity fields changed: %+v", got)
	}
	if !got.Amount.Equal(rt.Amount) {
		t.Errorf("Amount = %v, want %v", got.Amount, rt.Amount)
	}
	if got.NextOccurrence == nil || !got.NextOccurrence.Equal(*rt.NextOccurrence) {
		t.Errorf("NextOccurrence = %v, want %v", got.NextOccurrence, *rt.NextOccurrence)
	}
	if got.Recurrence.Kind() != KindMonthly {
		t.Errorf("Recurrence kind = %v, want monthly", got.Recurrence.Kind())
	}
	if got.Metadata["source"] != "receipt" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
}

func TestOccurrence(t *testing.T) {
	rt, err := NewRecurringTransaction(validParams())
	if err != nil {
		t.Fatal(err)
	}
	tx := rt.Occurrence()
	if tx.Title != "Rent" || tx.CategoryID != "housing" || tx.RecurringID != rt.ID.String() {
		t.Errorf("Occurrence() = %+v", tx)
	}
	if !tx.Date.Equal(*rt.NextOccurrence) {
		t.Errorf("Occurrence().Date = %v, want %v", tx.Date, *rt.NextOccurrence)
	}
}

func TestTransactionValidate(t *testing.T) {
	base := Transaction{
		Title:  "Coffee",
		Type:   Expense,
		Amount: decimal.RequireFromString("3.20"),
		Date:   date(2024, time.May, 2, 8, 15),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"empty title", func(tx *Transaction) { tx.Title = "  " }, ErrEmptyTitle},
		{"bad type", func(tx *Transaction) { tx.Type = "transfer" }, ErrInvalidType},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, ErrInvalidAmount},
		{"zero date", func(tx *Transaction) { tx.Date = time.Time{} }, ErrZeroDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := base
			tt.mutate(&tx)
			if err := tx.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExhaustedMarkerSurvivesJSON(t *testing.T) {
	p := validParams()
	end := date(2024, time.January, 25, 0, 0)
	p.EndDate = &end
	rt, err := NewRecurringTransaction(p)
	if err != nil {
		t.Fatal(err)
	}
	if !rt.Exhausted() {
		t.Fatal("expected record to be exhausted at creation")
	}

	data, err := json.Marshal(rt)
	if err != nil {
		t.Fatal(err)
	}
	var got RecurringTransaction
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.NeedsSchedule() {
		t.Error("exhausted record must not ask to be rescheduled")
	}
}

func TestMissingCursorNeedsSchedule(t *testing.T) {
	doc := `{"id":"2f1b9e3c-7a8d-4c55-9a7e-1b2c3d4e5f60","title":"Gym","type":"expense",
		"amount":"30","startDate":"2024-01-10T07:00:00Z","recurrence":{"kind":"everyNDays","interval":7}}`

	var rt RecurringTransaction
	if err := json.Unmarshal([]byte(doc), &rt); err != nil {
		t.Fatal(err)
	}
	if !rt.NeedsSchedule() {
		t.Fatal("record without cursor should need scheduling")
	}

	rt.Reschedule(rt.StartDate)
	if rt.NeedsSchedule() || rt.NextOccurrence == nil {
		t.Errorf("Reschedule() left cursor unset: %v", rt.NextOccurrence)
	}
}

func TestClone(t *testing.T) {
	p := validParams()
	p.Metadata = map[string]string{"k": "v"}
	end := date(2025, time.January, 1, 0, 0)
	p.EndDate = &end
	rt, err := NewRecurringTransaction(p)
	if err != nil {
		t.Fatal(err)
	}

	c := rt.Clone()
	c.Metadata["k"] = "changed"
	*c.NextOccurrence = c.NextOccurrence.AddDate(1, 0, 0)
	*c.EndDate = c.EndDate.AddDate(1, 0, 0)

	if rt.Metadata["k"] != "v" {
		t.Error("Clone shares Metadata")
	}
	if rt.NextOccurrence.Equal(*c.NextOccurrence) || rt.EndDate.Equal(*c.EndDate) {
		t.Error("Clone shares time pointers")
	}
}
