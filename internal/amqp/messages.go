package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// TransactionMessage carries one recorded transaction to the ledger worker.
type TransactionMessage struct {
	UserID      string               `json:"userId"`
	Title       string               `json:"title"`
	Type        core.TransactionType `json:"type"`
	CategoryID  string               `json:"categoryIdentifier,omitempty"`
	Amount      decimal.Decimal      `json:"amount"`
	Date        time.Time            `json:"date"`
	RecurringID string               `json:"recurringId,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

var ErrEmptyUserID = errors.New("message has no user id")

// NewTransactionMessage wraps tx for publishing on behalf of userID.
func NewTransactionMessage(userID string, tx core.Transaction) *TransactionMessage {
	return &TransactionMessage{
		UserID:      userID,
		Title:       tx.Title,
		Type:        tx.Type,
		CategoryID:  tx.CategoryID,
		Amount:      tx.Amount,
		Date:        tx.Date,
		RecurringID: tx.RecurringID,
		Timestamp:   time.Now(),
	}
}

// Transaction returns the carried transaction.
func (m *TransactionMessage) Transaction() core.Transaction {
	return core.Transaction{
		Title:       m.Title,
		Type:        m.Type,
		CategoryID:  m.CategoryID,
		Amount:      m.Amount,
		Date:        m.Date,
		RecurringID: m.RecurringID,
	}
}

// ToJSON converts the message to JSON bytes
func (m *TransactionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionMessageFromJSON decodes and validates a message.
func TransactionMessageFromJSON(data []byte) (*TransactionMessage, error) {
	var msg TransactionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, ErrEmptyUserID
	}
	if err := msg.Transaction().Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
