package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatementLine is one parsed line from a bank statement or sync feed. The
// upstream parsers (out of process) publish these; the import worker
// reconciles them.
type StatementLine struct {
	ExternalID  string          `json:"external_id,omitempty"`
	AccountID   int64           `json:"account_id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
}

// StatementBatchMessage carries one import batch for a single user. Lines
// are processed in order so the in-batch matched set stays consistent.
type StatementBatchMessage struct {
	BatchID   string          `json:"batch_id"`
	UserID    int64           `json:"user_id"`
	Lines     []StatementLine `json:"lines"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewStatementBatchMessage(userID int64, lines []StatementLine) *StatementBatchMessage {
	return &StatementBatchMessage{
		BatchID:   uuid.NewString(),
		UserID:    userID,
		Lines:     lines,
		Timestamp: time.Now(),
	}
}

func (m *StatementBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func StatementBatchMessageFromJSON(data []byte) (*StatementBatchMessage, error) {
	var msg StatementBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
