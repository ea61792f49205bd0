package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"registro/internal/ledger"
)

var ErrInvalidMessage = errors.New("invalid ledger change message")

// LedgerChangeMessage announces that one record was written or deleted.
// It carries identifiers only; receivers re-query their own view.
type LedgerChangeMessage struct {
	OwnerID   int64     `json:"owner_id"`
	RecordID  int64     `json:"record_id"`
	Op        ledger.Op `json:"op"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerChangeMessage wraps c, stamped with the publishing instance.
func NewLedgerChangeMessage(c ledger.Change, origin string) *LedgerChangeMessage {
	at := c.At
	if at.IsZero() {
		at = time.Now()
	}
	return &LedgerChangeMessage{
		OwnerID:   c.OwnerID,
		RecordID:  c.RecordID,
		Op:        c.Op,
		Origin:    origin,
		Timestamp: at,
	}
}

// Change converts the message back into a ledger change.
func (m *LedgerChangeMessage) Change() ledger.Change {
	return ledger.Change{OwnerID: m.OwnerID, RecordID: m.RecordID, Op: m.Op, At: m.Timestamp}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerChangeMessageFromJSON decodes and validates a message.
func LedgerChangeMessageFromJSON(data []byte) (*LedgerChangeMessage, error) {
	var msg LedgerChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.OwnerID <= 0 || msg.RecordID <= 0 {
		return nil, fmt.Errorf("%w: missing owner or record id", ErrInvalidMessage)
	}
	if msg.Op != ledger.OpUpsert && msg.Op != ledger.OpDelete {
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidMessage, msg.Op)
	}
	return &msg, nil
}
