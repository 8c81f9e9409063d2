package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/internal/repository/memory"
	"debt-negotiation-be/pkg/ai"
	"debt-negotiation-be/pkg/bus"
	"debt-negotiation-be/pkg/escalation"
	"debt-negotiation-be/pkg/flags"
	"debt-negotiation-be/pkg/portalsync"
	"debt-negotiation-be/pkg/store"
)

type scriptedAI struct {
	reply ai.Reply
	err   error
}

func (s scriptedAI) GenerateReply(ctx context.Context, req ai.ReplyRequest) (ai.Reply, error) {
	if s.err != nil {
		return ai.Reply{}, s.err
	}
	return s.reply, nil
}

func (s scriptedAI) Statistics(ctx context.Context) (ai.NegotiationStats, error) {
	return ai.NegotiationStats{TotalConversations: 1}, nil
}

// blockingAI parks GenerateReply until released so a test can hold one
// conversation's generation in flight.
type blockingAI struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAI) GenerateReply(ctx context.Context, req ai.ReplyRequest) (ai.Reply, error) {
	b.entered <- struct{}{}
	<-b.release
	return ai.Reply{Content: "Le propongo un plan de pago.", Confidence: 0.8}, nil
}

func (b *blockingAI) Statistics(ctx context.Context) (ai.NegotiationStats, error) {
	return ai.NegotiationStats{}, nil
}

type captureDelivery struct {
	mu       sync.Mutex
	received []portalsync.CrossNotification
}

func (d *captureDelivery) DeliverNotification(n portalsync.CrossNotification) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, n)
}

type negotiationFixture struct {
	service INegotiationService
	repo    *memory.ConversationRepository
	flags   *flags.Store
	bus     *bus.Bus
}

// newNegotiationFixture wires the orchestrator against the in-process bus
// with the AI module fully enabled, then lets each test flip flags back off.
func newNegotiationFixture(t *testing.T, bundle ai.Services) *negotiationFixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNopLogger()

	registry := flags.NewStore(ctx, flags.NewMemorySnapshotStore(), log)
	for key, value := range map[string]bool{
		flags.KeyModuleEnabled:      true,
		flags.KeyNegotiationEnabled: true,
		flags.KeyRealTimeEnabled:    true,
		flags.KeySafeMode:           false,
	} {
		if err := registry.SetFlag(ctx, key, value); err != nil {
			t.Fatalf("SetFlag(%s): %v", key, err)
		}
	}

	sharedBus := bus.NewBus()
	syncService := NewSyncService(func(userID, role string) (portalsync.Provider, error) {
		return sharedBus.NewProvider(), nil
	}, &captureDelivery{}, registry, log)
	t.Cleanup(syncService.TeardownAll)

	repo := memory.NewConversationRepository()
	loader := ai.NewLoader(func() (ai.Services, error) {
		return bundle, nil
	}, registry, log)

	policy := escalation.Policy{
		MaxDiscountPercent:      15,
		EscalationMarginPercent: 5,
		MaxTermMonths:           12,
		MaxConversationLength:   20,
		FrustrationThreshold:    0.7,
	}

	return &negotiationFixture{
		service: NewNegotiationService(repo, loader, registry, syncService, policy, log),
		repo:    repo,
		flags:   registry,
		bus:     sharedBus,
	}
}

func (f *negotiationFixture) createConversation(t *testing.T) string {
	t.Helper()
	resp, err := f.service.CreateConversation(context.Background(), &dto.CreateConversationRequest{
		CompanyID: "company-1",
		DebtorID:  "debtor-1",
	})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	return resp.ConversationID
}

func TestSendMessageGeneratesAIReply(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "Le propongo un plan de 6 cuotas.", Confidence: 0.8}})
	id := f.createConversation(t)

	resp, err := f.service.SendMessage(context.Background(), "debtor-1", "debtor", id, &dto.SendMessageRequest{
		Content: "Quisiera refinanciar mi deuda",
	})

	assert.NoError(t, err)
	assert.False(t, resp.Escalated)
	assert.False(t, resp.Fallback)
	if assert.NotNil(t, resp.Reply) {
		assert.Equal(t, store.RoleAI, resp.Reply.SenderRole)
		assert.Equal(t, "Le propongo un plan de 6 cuotas.", resp.Reply.Content)
	}

	conversation, ok := f.repo.Get(id)
	assert.True(t, ok)
	assert.Len(t, conversation.Messages, 2)
	assert.True(t, conversation.AIActive)
}

func TestSendMessageEscalatesOnHumanRequest(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "no debería llegar"}})
	id := f.createConversation(t)

	resp, err := f.service.SendMessage(context.Background(), "debtor-1", "debtor", id, &dto.SendMessageRequest{
		Content: "Quiero hablar con una persona",
	})

	assert.NoError(t, err)
	assert.True(t, resp.Escalated)
	assert.Equal(t, string(escalation.ReasonUserRequestedHuman), resp.EscalationReason)

	conversation, ok := f.repo.Get(id)
	assert.True(t, ok)
	assert.True(t, conversation.Escalated)
	assert.False(t, conversation.AIActive)

	// The transcript ends with the system hand-off note carrying the verdict.
	last := conversation.Messages[len(conversation.Messages)-1]
	assert.Equal(t, store.RoleSystem, last.SenderRole)
	assert.True(t, last.Metadata.EscalationTriggered)
	assert.Equal(t, string(escalation.ReasonUserRequestedHuman), last.Metadata.EscalationReason)
}

func TestEscalatedConversationStaysSilent(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "respuesta"}})
	id := f.createConversation(t)
	ctx := context.Background()

	_, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Quiero hablar con una persona"})
	assert.NoError(t, err)

	resp, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Sigo esperando"})
	assert.NoError(t, err)
	assert.True(t, resp.Escalated)
	assert.Nil(t, resp.Reply)

	// The debtor message still lands in the transcript for the human.
	conversation, _ := f.repo.Get(id)
	last := conversation.Messages[len(conversation.Messages)-1]
	assert.Equal(t, store.RoleDebtor, last.SenderRole)
	assert.Equal(t, "Sigo esperando", last.Content)
}

func TestResumeReturnsConversationToAI(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "Continuemos con su plan.", Confidence: 0.8}})
	id := f.createConversation(t)
	ctx := context.Background()

	_, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Quiero hablar con una persona"})
	assert.NoError(t, err)

	assert.NoError(t, f.service.Resume(ctx, id))

	resp, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Listo, sigamos"})
	assert.NoError(t, err)
	assert.False(t, resp.Escalated)
	if assert.NotNil(t, resp.Reply) {
		assert.Equal(t, "Continuemos con su plan.", resp.Reply.Content)
	}
}

func TestDisabledNegotiationHandsOff(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "no debería llegar"}})
	id := f.createConversation(t)
	ctx := context.Background()

	assert.NoError(t, f.flags.SetFlag(ctx, flags.KeyNegotiationEnabled, false))

	resp, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Hola"})
	assert.NoError(t, err)
	assert.True(t, resp.Escalated)
	assert.Nil(t, resp.Reply)

	conversation, _ := f.repo.Get(id)
	assert.False(t, conversation.AIActive)
}

func TestGenerationFailureSendsFixedApologyOnce(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{err: assert.AnError})
	id := f.createConversation(t)
	ctx := context.Background()

	resp, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Hola"})
	assert.NoError(t, err)
	assert.True(t, resp.Fallback)
	if assert.NotNil(t, resp.Reply) {
		assert.Equal(t, ai.FallbackReply, resp.Reply.Content)
		assert.True(t, resp.Reply.Metadata.Fallback)
	}

	// Follow-up messages queue for the human, no second apology.
	resp, err = f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "¿Hay alguien?"})
	assert.NoError(t, err)
	assert.True(t, resp.Escalated)
	assert.Nil(t, resp.Reply)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{})

	_, err := f.service.SendMessage(context.Background(), "debtor-1", "debtor", "missing", &dto.SendMessageRequest{Content: "Hola"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestConversationStatePublishedToSharedBus(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "ok"}})
	id := f.createConversation(t)

	reader := f.bus.NewProvider()
	states, err := reader.GetSharedStates(context.Background(), "company-1")
	assert.NoError(t, err)
	if assert.Len(t, states, 1) {
		assert.Equal(t, id, states[0].EntityID)
		assert.Equal(t, portalsync.EntityNegotiation, states[0].EntityType)
		assert.Equal(t, "active", states[0].Data["status"])
	}
}

func TestMessageFlowSurvivesRealtimeOutage(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{reply: ai.Reply{Content: "ok", Confidence: 0.8}})
	id := f.createConversation(t)
	ctx := context.Background()

	assert.NoError(t, f.flags.SetFlag(ctx, flags.KeyRealTimeEnabled, false))

	resp, err := f.service.SendMessage(ctx, "debtor-1", "debtor", id, &dto.SendMessageRequest{Content: "Hola"})
	assert.NoError(t, err)
	assert.False(t, resp.Escalated)
	assert.NotNil(t, resp.Reply)
}

func TestStatsComeFromLoadedBundle(t *testing.T) {
	f := newNegotiationFixture(t, scriptedAI{})

	stats, err := f.service.Stats(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
	assert.False(t, stats.Fallback)
}

func TestConversationsAreNotSerializedBehindOneGeneration(t *testing.T) {
	aiStub := &blockingAI{entered: make(chan struct{}), release: make(chan struct{})}
	f := newNegotiationFixture(t, aiStub)
	first := f.createConversation(t)
	second := f.createConversation(t)

	firstDone := make(chan *dto.SendMessageResponse, 1)
	go func() {
		resp, err := f.service.SendMessage(context.Background(), "debtor-1", "debtor", first, &dto.SendMessageRequest{
			Content: "Quisiera refinanciar mi deuda",
		})
		assert.NoError(t, err)
		firstDone <- resp
	}()
	<-aiStub.entered

	secondDone := make(chan *dto.SendMessageResponse, 1)
	go func() {
		resp, err := f.service.SendMessage(context.Background(), "debtor-1", "debtor", second, &dto.SendMessageRequest{
			Content: "Quiero hablar con una persona",
		})
		assert.NoError(t, err)
		secondDone <- resp
	}()

	// The second conversation never touches the AI; it must not queue behind
	// the first conversation's in-flight generation.
	select {
	case resp := <-secondDone:
		assert.True(t, resp.Escalated)
		assert.Equal(t, string(escalation.ReasonUserRequestedHuman), resp.EscalationReason)
	case <-time.After(2 * time.Second):
		t.Fatal("second conversation blocked behind another conversation's generation")
	}

	close(aiStub.release)
	resp := <-firstDone
	assert.NotNil(t, resp.Reply)
	assert.False(t, resp.Escalated)
}
