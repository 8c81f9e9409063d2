package store

import "time"

// Sender roles for conversation messages.
const (
	RoleDebtor = "debtor"
	RoleAI     = "ai"
	RoleHuman  = "human"
	RoleSystem = "system"
)

// MessageMetadata carries the AI decision annotations attached to a message.
type MessageMetadata struct {
	Confidence          float64 `json:"confidence,omitempty"`
	EscalationTriggered bool    `json:"escalation_triggered,omitempty"`
	EscalationReason    string  `json:"escalation_reason,omitempty"`
	Fallback            bool    `json:"fallback,omitempty"`
}

// Message is one entry in a negotiation transcript. Messages are append-only;
// there are no in-place edits.
type Message struct {
	ID         string          `json:"id"`
	SenderRole string          `json:"sender_role"`
	Content    string          `json:"content"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   MessageMetadata `json:"metadata"`
}

// Conversation is the active negotiation transcript held in memory while a
// debtor and the platform exchange messages.
type Conversation struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	DebtorID  string    `json:"debtor_id"`
	Messages  []Message `json:"messages"`
	AIActive  bool      `json:"ai_active"`
	Escalated bool      `json:"escalated"`
	CreatedAt time.Time `json:"created_at"`
}

// Append adds a message to the transcript.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// DebtorMessageCount returns how many messages the debtor has sent.
func (c *Conversation) DebtorMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.SenderRole == RoleDebtor {
			n++
		}
	}
	return n
}
