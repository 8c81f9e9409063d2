package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/internal/repository/memory"
	"debt-negotiation-be/pkg/ai"
	"debt-negotiation-be/pkg/escalation"
	"debt-negotiation-be/pkg/flags"
	"debt-negotiation-be/pkg/portalsync"
	"debt-negotiation-be/pkg/store"
)

var ErrConversationNotFound = errors.New("conversation not found")

type INegotiationService interface {
	CreateConversation(ctx context.Context, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error)
	SendMessage(ctx context.Context, userID, role, conversationID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error)
	Resume(ctx context.Context, conversationID string) error
	Get(ctx context.Context, conversationID string) (*store.Conversation, error)
	Stats(ctx context.Context) (*dto.NegotiationStatsResponse, error)
}

// negotiationService is the orchestrator: it routes inbound debtor messages
// to the AI bundle or the human queue, and republishes state changes through
// the sync layer.
type negotiationService struct {
	// mu guards the lock table only. Each conversation serializes on its own
	// mutex so one in-flight generation never blocks the others.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	conversations *memory.ConversationRepository
	loader        *ai.Loader
	flags         flags.Registry
	syncService   ISyncService
	policy        escalation.Policy
	logger        logger.ILogger
}

func NewNegotiationService(
	conversations *memory.ConversationRepository,
	loader *ai.Loader,
	registry flags.Registry,
	syncService ISyncService,
	policy escalation.Policy,
	log logger.ILogger,
) INegotiationService {
	return &negotiationService{
		locks:         make(map[string]*sync.Mutex),
		conversations: conversations,
		loader:        loader,
		flags:         registry,
		syncService:   syncService,
		policy:        policy,
		logger:        log,
	}
}

func (s *negotiationService) CreateConversation(ctx context.Context, req *dto.CreateConversationRequest) (*dto.CreateConversationResponse, error) {
	conversation := &store.Conversation{
		ID:        uuid.NewString(),
		CompanyID: req.CompanyID,
		DebtorID:  req.DebtorID,
		AIActive:  true,
		CreatedAt: time.Now(),
	}
	s.conversations.Save(conversation)

	s.publishSharedState(ctx, conversation, "active")
	return &dto.CreateConversationResponse{ConversationID: conversation.ID}, nil
}

func (s *negotiationService) SendMessage(ctx context.Context, userID, role, conversationID string, req *dto.SendMessageRequest) (*dto.SendMessageResponse, error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conversation, ok := s.conversations.Get(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}

	conversation.Append(store.Message{
		ID:         uuid.NewString(),
		SenderRole: store.RoleDebtor,
		Content:    req.Content,
		Timestamp:  time.Now(),
	})

	// Already handed off: the message queues for the human operator, the AI
	// stays silent until an explicit resume.
	if conversation.Escalated || !conversation.AIActive {
		s.conversations.Save(conversation)
		return &dto.SendMessageResponse{Escalated: true}, nil
	}

	if !s.flags.IsEnabled(flags.KeyNegotiationEnabled) {
		return s.handOff(ctx, conversation, string(escalation.ReasonNone), "Negociación automática deshabilitada"), nil
	}

	if s.flags.IsEnabled(flags.KeyEscalationEnabled) {
		decision := escalation.Decide(conversation, s.policy, req.Content)
		if decision.Escalate {
			return s.escalate(ctx, conversation, decision), nil
		}
	}

	return s.reply(ctx, conversation, req.Content), nil
}

// Resume re-enables AI handling after a human releases the conversation.
func (s *negotiationService) Resume(ctx context.Context, conversationID string) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	conversation, ok := s.conversations.Get(conversationID)
	if !ok {
		return ErrConversationNotFound
	}
	conversation.Escalated = false
	conversation.AIActive = true
	conversation.Append(store.Message{
		ID:         uuid.NewString(),
		SenderRole: store.RoleSystem,
		Content:    "Conversación devuelta al asistente automático.",
		Timestamp:  time.Now(),
	})
	s.conversations.Save(conversation)

	s.publishSharedState(ctx, conversation, "active")
	return nil
}

func (s *negotiationService) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

func (s *negotiationService) Get(ctx context.Context, conversationID string) (*store.Conversation, error) {
	conversation, ok := s.conversations.Get(conversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	return conversation, nil
}

func (s *negotiationService) Stats(ctx context.Context) (*dto.NegotiationStatsResponse, error) {
	stats, err := s.loader.Load(ctx).Statistics(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.NegotiationStatsResponse{
		TotalConversations:     stats.TotalConversations,
		ActiveConversations:    stats.ActiveConversations,
		EscalatedConversations: stats.EscalatedConversations,
		ResolutionRate:         stats.ResolutionRate,
		Fallback:               stats.Fallback,
	}, nil
}

func (s *negotiationService) escalate(ctx context.Context, conversation *store.Conversation, decision escalation.Decision) *dto.SendMessageResponse {
	conversation.Escalated = true
	conversation.AIActive = false
	conversation.Append(store.Message{
		ID:         uuid.NewString(),
		SenderRole: store.RoleSystem,
		Content:    "Conversación derivada a un asesor humano.",
		Timestamp:  time.Now(),
		Metadata: store.MessageMetadata{
			Confidence:          decision.Confidence,
			EscalationTriggered: true,
			EscalationReason:    string(decision.Reason),
		},
	})
	s.conversations.Save(conversation)

	s.notifyCompany(ctx, conversation, "Negociación escalada",
		"Un deudor requiere atención humana ("+string(decision.Reason)+")")
	s.publishSharedState(ctx, conversation, "escalated")

	return &dto.SendMessageResponse{
		Escalated:        true,
		EscalationReason: string(decision.Reason),
	}
}

// handOff routes to the human queue without an engine decision (disabled
// feature, unavailable AI).
func (s *negotiationService) handOff(ctx context.Context, conversation *store.Conversation, reason, note string) *dto.SendMessageResponse {
	conversation.AIActive = false
	conversation.Append(store.Message{
		ID:         uuid.NewString(),
		SenderRole: store.RoleSystem,
		Content:    note,
		Timestamp:  time.Now(),
	})
	s.conversations.Save(conversation)

	s.notifyCompany(ctx, conversation, "Negociación en espera", note)
	s.publishSharedState(ctx, conversation, "pending_human")

	return &dto.SendMessageResponse{Escalated: true, EscalationReason: reason}
}

func (s *negotiationService) reply(ctx context.Context, conversation *store.Conversation, debtorMessage string) *dto.SendMessageResponse {
	services := s.loader.Load(ctx)
	generated, err := services.GenerateReply(ctx, ai.ReplyRequest{
		DebtorMessage: debtorMessage,
		Conversation:  conversation,
		Policy:        s.policy,
	})
	if err != nil {
		// No retry loop: the debtor gets the fixed apology once and the
		// conversation is flagged for human follow-up.
		s.logger.Error("NegotiationService", "Reply generation failed", map[string]interface{}{
			"conversation_id": conversation.ID, "error": err.Error(),
		})
		generated = ai.Reply{Content: ai.FallbackReply, Fallback: true}
		conversation.AIActive = false
		s.notifyCompany(ctx, conversation, "Asistente no disponible",
			"El asistente automático falló; la conversación requiere seguimiento humano")
	}

	message := store.Message{
		ID:         uuid.NewString(),
		SenderRole: store.RoleAI,
		Content:    generated.Content,
		Timestamp:  time.Now(),
		Metadata: store.MessageMetadata{
			Confidence: generated.Confidence,
			Fallback:   generated.Fallback,
		},
	}
	conversation.Append(message)
	s.conversations.Save(conversation)

	s.publishSharedState(ctx, conversation, "active")

	return &dto.SendMessageResponse{
		Reply:    &message,
		Fallback: generated.Fallback,
	}
}

// notifyCompany publishes a cross notification toward the company portal on
// the debtor's session. Delivery failures are recorded by the session; the
// message flow itself never fails on them.
func (s *negotiationService) notifyCompany(ctx context.Context, conversation *store.Conversation, title, message string) {
	session, err := s.syncService.Session(ctx, conversation.DebtorID, portalsync.RoleDebtor)
	if err != nil {
		s.logger.Debug("NegotiationService", "Realtime layer unavailable, skipping notification", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := session.SendCrossNotification(ctx, portalsync.CrossNotification{
		SenderID:       conversation.DebtorID,
		SenderType:     portalsync.RoleDebtor,
		TargetUserType: portalsync.RoleCompany,
		Title:          title,
		Message:        message,
	}); err != nil {
		s.logger.Warn("NegotiationService", "Cross notification failed", map[string]interface{}{
			"conversation_id": conversation.ID, "error": err.Error(),
		})
	}
}

// publishSharedState pushes the conversation's negotiation status through the
// sync layer so the other portal converges on it.
func (s *negotiationService) publishSharedState(ctx context.Context, conversation *store.Conversation, status string) {
	session, err := s.syncService.Session(ctx, conversation.DebtorID, portalsync.RoleDebtor)
	if err != nil {
		s.logger.Debug("NegotiationService", "Realtime layer unavailable, skipping state publish", map[string]interface{}{"error": err.Error()})
		return
	}

	data := map[string]interface{}{
		"status":        status,
		"company_id":    conversation.CompanyID,
		"debtor_id":     conversation.DebtorID,
		"message_count": len(conversation.Messages),
		"escalated":     conversation.Escalated,
	}
	if err := session.UpdateSharedStateServer(ctx, conversation.ID, portalsync.EntityNegotiation, data); err != nil {
		s.logger.Warn("NegotiationService", "Shared state publish failed", map[string]interface{}{
			"conversation_id": conversation.ID, "error": err.Error(),
		})
	}
}
