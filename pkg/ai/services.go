package ai

import (
	"context"

	"debt-negotiation-be/pkg/escalation"
	"debt-negotiation-be/pkg/store"
)

// ReplyRequest carries everything the generator needs for one turn.
type ReplyRequest struct {
	DebtorMessage string
	Conversation  *store.Conversation
	Policy        escalation.Policy
}

// Reply is one generated negotiation turn. Callers never need to distinguish
// the real and fallback bundles by shape; only the Fallback flag differs.
type Reply struct {
	Content             string  `json:"content"`
	Confidence          float64 `json:"confidence"`
	EscalationTriggered bool    `json:"escalation_triggered"`
	EscalationReason    string  `json:"escalation_reason,omitempty"`
	Fallback            bool    `json:"fallback"`
}

// NegotiationStats are the aggregate counters the dashboard shows.
type NegotiationStats struct {
	TotalConversations     int     `json:"total_conversations"`
	ActiveConversations    int     `json:"active_conversations"`
	EscalatedConversations int     `json:"escalated_conversations"`
	ResolutionRate         float64 `json:"resolution_rate"`
	Fallback               bool    `json:"fallback"`
}

// Services is the optional AI negotiation bundle. The loader guarantees
// callers always receive some usable implementation.
type Services interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error)
	Statistics(ctx context.Context) (NegotiationStats, error)
}
