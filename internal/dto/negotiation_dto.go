package dto

import (
	"debt-negotiation-be/pkg/store"
)

type CreateConversationRequest struct {
	CompanyID string `json:"company_id" validate:"required"`
	DebtorID  string `json:"debtor_id" validate:"required"`
}

type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

type SendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type SendMessageResponse struct {
	Reply            *store.Message `json:"reply,omitempty"`
	Escalated        bool           `json:"escalated"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
	Fallback         bool           `json:"fallback"`
}

type ConversationResponse struct {
	Conversation *store.Conversation `json:"conversation"`
}

type NegotiationStatsResponse struct {
	TotalConversations     int     `json:"total_conversations"`
	ActiveConversations    int     `json:"active_conversations"`
	EscalatedConversations int     `json:"escalated_conversations"`
	ResolutionRate         float64 `json:"resolution_rate"`
	Fallback               bool    `json:"fallback"`
}
