package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"debt-negotiation-be/internal/config"
	"debt-negotiation-be/internal/controller"
	"debt-negotiation-be/internal/handler"
	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/internal/repository/memory"
	"debt-negotiation-be/internal/service"
	"debt-negotiation-be/internal/websocket"
	"debt-negotiation-be/pkg/ai"
	"debt-negotiation-be/pkg/bus"
	"debt-negotiation-be/pkg/escalation"
	"debt-negotiation-be/pkg/flags"
	llmfactory "debt-negotiation-be/pkg/llm/factory"
	pktNats "debt-negotiation-be/pkg/nats"
	"debt-negotiation-be/pkg/portalsync"
)

type Container struct {
	NegotiationController controller.INegotiationController
	SyncController        controller.ISyncController
	FlagController        controller.IFlagController

	PortalHandler *handler.PortalHandler
	WebSocketHub  *websocket.Hub

	FlagStore   *flags.Store
	SyncService service.ISyncService

	Logger logger.ILogger
}

func NewContainer(cfg *config.Config) *Container {
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// Redis backs flag persistence, the hub's cluster fanout and the NATS
	// provider's state tables.
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		sysLogger.Warn("Bootstrap", "Failed to parse Redis URL, using direct addr", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{Addr: cfg.App.RedisURL}
	}
	rdb := redis.NewClient(opt)

	var snapshots flags.SnapshotStore
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		sysLogger.Warn("Bootstrap", "Redis unreachable, flag persistence degrades to memory", map[string]interface{}{"error": err.Error()})
		snapshots = flags.NewMemorySnapshotStore()
	} else {
		snapshots = flags.NewRedisSnapshotStore(rdb)
	}

	flagStore := flags.NewStore(context.Background(), snapshots, sysLogger)

	// WebSocket hub with its own log file to keep the main log readable.
	wsLogger := logger.NewIsolatedLogger("logs/realtime.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	providerFactory := newProviderFactory(cfg, rdb, sysLogger)
	syncService := service.NewSyncService(providerFactory, wsHub, flagStore, sysLogger)

	conversationRepo := memory.NewConversationRepository()

	llmProvider, llmErr := llmfactory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, cfg.Ai.OllamaBaseURL)
	if llmErr != nil {
		sysLogger.Warn("Bootstrap", "LLM provider unavailable, AI bundle will fall back", map[string]interface{}{"error": llmErr.Error()})
	}
	serviceLoader := ai.NewLoader(func() (ai.Services, error) {
		if llmProvider == nil {
			return nil, fmt.Errorf("no LLM provider configured: %w", llmErr)
		}
		return ai.NewLLMServices(llmProvider, conversationRepo), nil
	}, flagStore, sysLogger)

	policy := escalation.Policy{
		MaxDiscountPercent:      cfg.Policy.MaxDiscountPercent,
		EscalationMarginPercent: cfg.Policy.EscalationMarginPercent,
		MaxTermMonths:           cfg.Policy.MaxTermMonths,
		MaxConversationLength:   cfg.Policy.MaxConversationLength,
		FrustrationThreshold:    cfg.Policy.FrustrationThreshold,
	}

	negotiationService := service.NewNegotiationService(
		conversationRepo,
		serviceLoader,
		flagStore,
		syncService,
		policy,
		sysLogger,
	)

	portalHandler := handler.NewPortalHandler(syncService, wsHub, wsLogger)

	return &Container{
		NegotiationController: controller.NewNegotiationController(negotiationService),
		SyncController:        controller.NewSyncController(syncService),
		FlagController:        controller.NewFlagController(flagStore),

		PortalHandler: portalHandler,
		WebSocketHub:  wsHub,

		FlagStore:   flagStore,
		SyncService: syncService,

		Logger: sysLogger,
	}
}

// newProviderFactory picks the event-channel backend: NATS JetStream in
// production, the in-process Watermill bus for single-node and test runs.
func newProviderFactory(cfg *config.Config, rdb *redis.Client, log logger.ILogger) service.ProviderFactory {
	if cfg.App.Provider == "inproc" {
		sharedBus := bus.NewBus()
		return func(userID, role string) (portalsync.Provider, error) {
			return sharedBus.NewProvider(), nil
		}
	}

	return func(userID, role string) (portalsync.Provider, error) {
		return pktNats.NewProvider(cfg.App.NatsURL, rdb, log)
	}
}
