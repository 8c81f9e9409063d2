package ai

import (
	"context"
	"fmt"
	"strings"

	"debt-negotiation-be/pkg/llm"
	"debt-negotiation-be/pkg/store"
)

// ConversationSource exposes the live transcripts the statistics aggregate
// over. Implemented by the in-memory conversation repository.
type ConversationSource interface {
	All() []*store.Conversation
}

// historyWindow bounds how much transcript is replayed into the prompt.
const historyWindow = 10

// llmServices is the real bundle: replies come from the configured language
// model, statistics from the live conversation set.
type llmServices struct {
	provider      llm.LLMProvider
	conversations ConversationSource
}

func NewLLMServices(provider llm.LLMProvider, conversations ConversationSource) Services {
	return &llmServices{
		provider:      provider,
		conversations: conversations,
	}
}

func (s *llmServices) GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error) {
	history := []llm.Message{{
		Role:    "system",
		Content: systemPrompt(req),
	}}

	if req.Conversation != nil {
		msgs := req.Conversation.Messages
		if len(msgs) > historyWindow {
			msgs = msgs[len(msgs)-historyWindow:]
		}
		for _, m := range msgs {
			role := "user"
			if m.SenderRole == store.RoleAI || m.SenderRole == store.RoleHuman {
				role = "assistant"
			}
			history = append(history, llm.Message{Role: role, Content: m.Content})
		}
	}
	history = append(history, llm.Message{Role: "user", Content: req.DebtorMessage})

	content, err := s.provider.Chat(ctx, history, llm.WithTemperature(0.4))
	if err != nil {
		return Reply{}, fmt.Errorf("reply generation failed: %w", err)
	}

	return Reply{
		Content:    strings.TrimSpace(content),
		Confidence: 0.75,
	}, nil
}

func (s *llmServices) Statistics(ctx context.Context) (NegotiationStats, error) {
	conversations := s.conversations.All()

	stats := NegotiationStats{TotalConversations: len(conversations)}
	completed := 0
	for _, c := range conversations {
		if c.Escalated {
			stats.EscalatedConversations++
			continue
		}
		if c.AIActive {
			stats.ActiveConversations++
		} else {
			completed++
		}
	}
	if stats.TotalConversations > 0 {
		stats.ResolutionRate = float64(completed) / float64(stats.TotalConversations)
	}
	return stats, nil
}

func systemPrompt(req ReplyRequest) string {
	var b strings.Builder
	b.WriteString("Eres un asistente de negociación de deudas. Responde breve, cordial y en el idioma del deudor.\n")
	b.WriteString("Límites no negociables:\n")
	fmt.Fprintf(&b, "- Descuento máximo: %.0f%%\n", req.Policy.MaxDiscountPercent)
	fmt.Fprintf(&b, "- Plazo máximo: %d meses\n", req.Policy.MaxTermMonths)
	b.WriteString("Nunca prometas condiciones fuera de esos límites; ofrece alternativas dentro de ellos.")
	return b.String()
}
