package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"expenses/internal/core"
)

// ExpenseCreatedMessage announces a record that is already durable in the
// local store. It carries the full record so consumers never read the store.
type ExpenseCreatedMessage struct {
	ID          string    `json:"id"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	CreatedAt   string    `json:"created_at"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExpenseCreatedMessage builds the event for a created record.
func NewExpenseCreatedMessage(e core.ExpenseView) *ExpenseCreatedMessage {
	return &ExpenseCreatedMessage{
		ID:          e.ID,
		AmountCents: e.Amount.Cents,
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
		Timestamp:   time.Now(),
	}
}

// Expense returns the stored form of the announced record.
func (m *ExpenseCreatedMessage) Expense() core.Expense {
	return core.Expense{
		ID:          m.ID,
		Amount:      m.AmountCents,
		Category:    m.Category,
		Description: m.Description,
		Date:        m.Date,
		CreatedAt:   m.CreatedAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseCreatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ExpenseCreatedMessageFromJSON decodes and sanity-checks a message body.
func ExpenseCreatedMessageFromJSON(data []byte) (*ExpenseCreatedMessage, error) {
	var msg ExpenseCreatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("message has no expense id")
	}
	if msg.AmountCents <= 0 {
		return nil, fmt.Errorf("message for %s has non-positive amount", msg.ID)
	}
	return &msg, nil
}
