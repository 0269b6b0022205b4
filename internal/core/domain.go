package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const maxTitleLength = 200

type (
	TransactionType string

	// Transaction is a single recorded movement of money. Generated
	// occurrences carry the id of the recurring record that produced them.
	Transaction struct {
		Title       string
		Type        TransactionType
		CategoryID  string // empty when uncategorised
		Amount      decimal.Decimal
		Date        time.Time
		RecurringID string
	}

	// RecurringTransaction pairs a recurrence rule with its scheduling cursor.
	RecurringTransaction struct {
		ID         uuid.UUID
		Title      string
		Type       TransactionType
		CategoryID string
		Amount     decimal.Decimal
		StartDate  time.Time
		EndDate    *time.Time // inclusive
		Recurrence Rule
		// NextOccurrence is the next date to emit; nil once exhausted.
		NextOccurrence *time.Time
		Metadata       map[string]string

		// unscheduled is set when a stored document carried neither a cursor
		// nor the exhausted marker.
		unscheduled bool
	}

	// RecurringParams holds the user supplied fields of a new record.
	RecurringParams struct {
		Title      string
		Type       TransactionType
		CategoryID string
		Amount     decimal.Decimal
		StartDate  time.Time
		EndDate    *time.Time
		Recurrence Rule
		Metadata   map[string]string
	}
)

var (
	ErrEmptyTitle     = errors.New("empty title")
	ErrTitleTooLong   = errors.New("title too long (max 200 characters)")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidType    = errors.New("invalid transaction type")
	ErrZeroStartDate  = errors.New("start date cannot be zero")
	ErrZeroDate       = errors.New("date cannot be zero")
	ErrEndBeforeStart = errors.New("end date must not be before start date")
	ErrNoRecurrence   = errors.New("missing recurrence rule")
)

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// TransactionTitle, TransactionCategory and TransactionDate let a Transaction
// feed the suggestion index.
func (t Transaction) TransactionTitle() string    { return t.Title }
func (t Transaction) TransactionCategory() string { return t.CategoryID }
func (t Transaction) TransactionDate() time.Time  { return t.Date }

// Validate checks the fields every ledger requires.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrEmptyTitle
	}
	if len(t.Title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, t.Type)
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// NewRecurringTransaction validates p, assigns a fresh id and schedules the
// first occurrence on or after the start date.
func NewRecurringTransaction(p RecurringParams) (RecurringTransaction, error) {
	rt := RecurringTransaction{
		ID:         uuid.New(),
		Title:      strings.TrimSpace(p.Title),
		Type:       p.Type,
		CategoryID: p.CategoryID,
		Amount:     p.Amount,
		StartDate:  p.StartDate,
		EndDate:    p.EndDate,
		Recurrence: p.Recurrence,
		Metadata:   p.Metadata,
	}
	if err := rt.Validate(); err != nil {
		return RecurringTransaction{}, err
	}
	rt.Reschedule(rt.StartDate)
	return rt, nil
}

func (rt RecurringTransaction) Validate() error {
	if strings.TrimSpace(rt.Title) == "" {
		return ErrEmptyTitle
	}
	if len(rt.Title) > maxTitleLength {
		return ErrTitleTooLong
	}
	if !rt.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, rt.Type)
	}
	if !rt.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if rt.StartDate.IsZero() {
		return ErrZeroStartDate
	}
	if rt.EndDate != nil && rt.EndDate.Before(rt.StartDate) {
		return ErrEndBeforeStart
	}
	if rt.Recurrence == nil {
		return ErrNoRecurrence
	}
	return nil
}

// Reschedule recomputes the cursor from the later of StartDate and from.
// Used after an edit changes the rule or the dates.
func (rt *RecurringTransaction) Reschedule(from time.Time) {
	if rt.Recurrence == nil {
		rt.NextOccurrence = nil
		rt.unscheduled = false
		return
	}
	if from.Before(rt.StartDate) {
		from = rt.StartDate
	}
	next := rt.Recurrence.FirstOnOrAfter(from)
	rt.setNext(next)
}

// NeedsSchedule reports whether the record was decoded without a cursor and
// without being marked exhausted, so its cursor must be computed again.
func (rt RecurringTransaction) NeedsSchedule() bool {
	return rt.unscheduled
}

// Clone returns a copy that shares no pointers or maps with rt.
func (rt RecurringTransaction) Clone() RecurringTransaction {
	c := rt
	if rt.EndDate != nil {
		end := *rt.EndDate
		c.EndDate = &end
	}
	if rt.NextOccurrence != nil {
		next := *rt.NextOccurrence
		c.NextOccurrence = &next
	}
	if rt.Metadata != nil {
		c.Metadata = make(map[string]string, len(rt.Metadata))
		for k, v := range rt.Metadata {
			c.Metadata[k] = v
		}
	}
	if w, ok := rt.Recurrence.(WeeklyOn); ok {
		c.Recurrence = WeeklyOn{Days: append([]Weekday(nil), w.Days...)}
	}
	return c
}

// Exhausted reports whether no further occurrences will be generated.
func (rt RecurringTransaction) Exhausted() bool {
	return rt.NextOccurrence == nil
}

// Advance moves the cursor past its current value. It returns false when the
// record becomes exhausted.
func (rt *RecurringTransaction) Advance() bool {
	if rt.NextOccurrence == nil {
		return false
	}
	if rt.Recurrence == nil {
		rt.NextOccurrence = nil
		return false
	}
	rt.setNext(rt.Recurrence.NextAfter(*rt.NextOccurrence))
	return rt.NextOccurrence != nil
}

// DueBy reports whether the cursor is at or before now and inside the end date.
func (rt RecurringTransaction) DueBy(now time.Time) bool {
	if rt.NextOccurrence == nil {
		return false
	}
	next := *rt.NextOccurrence
	if next.After(now) {
		return false
	}
	return rt.EndDate == nil || !next.After(*rt.EndDate)
}

// Occurrence builds the transaction emitted for the current cursor.
func (rt RecurringTransaction) Occurrence() Transaction {
	tx := Transaction{
		Title:       rt.Title,
		Type:        rt.Type,
		CategoryID:  rt.CategoryID,
		Amount:      rt.Amount,
		RecurringID: rt.ID.String(),
	}
	if rt.NextOccurrence != nil {
		tx.Date = *rt.NextOccurrence
	}
	return tx
}

func (rt *RecurringTransaction) setNext(next time.Time) {
	rt.unscheduled = false
	if rt.EndDate != nil && next.After(*rt.EndDate) {
		rt.NextOccurrence = nil
		return
	}
	rt.NextOccurrence = &next
}

// recurringDocument is the persisted JSON form of a RecurringTransaction.
type recurringDocument struct {
	ID             uuid.UUID         `json:"id"`
	Title          string            `json:"title"`
	Type           TransactionType   `json:"type"`
	CategoryID     *string           `json:"categoryIdentifier,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	StartDate      time.Time         `json:"startDate"`
	EndDate        *time.Time        `json:"endDate,omitempty"`
	Recurrence     json.RawMessage   `json:"recurrence"`
	NextOccurrence *time.Time        `json:"nextOccurrence,omitempty"`
	Exhausted      bool              `json:"exhausted,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (rt RecurringTransaction) MarshalJSON() ([]byte, error) {
	rule, err := MarshalRule(rt.Recurrence)
	if err != nil {
		return nil, err
	}
	doc := recurringDocument{
		ID:             rt.ID,
		Title:          rt.Title,
		Type:           rt.Type,
		Amount:         rt.Amount,
		StartDate:      rt.StartDate,
		EndDate:        rt.EndDate,
		Recurrence:     rule,
		NextOccurrence: rt.NextOccurrence,
		Exhausted:      rt.NextOccurrence == nil && !rt.unscheduled,
		Metadata:       rt.Metadata,
	}
	if rt.CategoryID != "" {
		doc.CategoryID = &rt.CategoryID
	}
	return json.Marshal(doc)
}

func (rt *RecurringTransaction) UnmarshalJSON(data []byte) error {
	var doc recurringDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	rule, err := UnmarshalRule(doc.Recurrence)
	if err != nil {
		return err
	}
	*rt = RecurringTransaction{
		ID:             doc.ID,
		Title:          doc.Title,
		Type:           doc.Type,
		Amount:         doc.Amount,
		StartDate:      doc.StartDate,
		EndDate:        doc.EndDate,
		Recurrence:     rule,
		NextOccurrence: doc.NextOccurrence,
		Metadata:       doc.Metadata,
		unscheduled:    doc.NextOccurrence == nil && !doc.Exhausted,
	}
	if doc.CategoryID != nil {
		rt.CategoryID = *doc.CategoryID
	}
	return nil
}
