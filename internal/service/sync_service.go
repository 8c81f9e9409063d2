package service

import (
	"context"
	"fmt"
	"sync"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/flags"
	"debt-negotiation-be/pkg/portalsync"
)

// ProviderFactory builds one provider instance per logical session.
type ProviderFactory func(userID, role string) (portalsync.Provider, error)

// NotificationDelivery pushes realtime payloads to connected portal clients.
// Implemented by the websocket hub.
type NotificationDelivery interface {
	DeliverNotification(n portalsync.CrossNotification)
}

type ISyncService interface {
	Session(ctx context.Context, userID, role string) (*portalsync.Session, error)
	Status(ctx context.Context, userID, role string) (*dto.SyncStatusResponse, error)
	ForceSync(ctx context.Context, userID, role string) error
	SharedStates(ctx context.Context, userID, role string) ([]portalsync.SharedStateRecord, error)
	Metrics(ctx context.Context, userID, role string, rng portalsync.MetricRange) ([]portalsync.UnifiedMetric, error)
	SendNotification(ctx context.Context, userID, role string, req *dto.SendNotificationRequest) error
	UpdateSharedState(ctx context.Context, userID, role string, req *dto.UpdateSharedStateRequest) error
	TeardownAll()
}

// syncService owns one SyncSession per (user, role) pair and tears the whole
// realtime layer down when the real-time flag is switched off.
type syncService struct {
	mu       sync.Mutex
	sessions map[string]*portalsync.Session

	providers   ProviderFactory
	delivery    NotificationDelivery
	flags       flags.Registry
	logger      logger.ILogger
	unsubscribe func()
}

func NewSyncService(providers ProviderFactory, delivery NotificationDelivery, registry flags.Registry, log logger.ILogger) ISyncService {
	s := &syncService{
		sessions:  make(map[string]*portalsync.Session),
		providers: providers,
		delivery:  delivery,
		flags:     registry,
		logger:    log,
	}

	// Flipping real-time off (safe mode does this) drops every live session.
	s.unsubscribe = registry.Subscribe(flags.KeyRealTimeEnabled, func(newValue, oldValue bool, key string) {
		if !newValue && oldValue {
			log.Info("SyncService", "Realtime disabled, tearing down sessions", nil)
			s.TeardownAll()
		}
	})

	return s
}

func sessionKey(userID, role string) string {
	return userID + "|" + role
}

// Session returns the live session for (userID, role), creating and
// initializing it on first use. An initialization failure still returns the
// session: it is in Error state and will retry on its own schedule.
func (s *syncService) Session(ctx context.Context, userID, role string) (*portalsync.Session, error) {
	if !s.flags.IsEnabled(flags.KeyRealTimeEnabled) {
		return nil, fmt.Errorf("realtime sync is disabled")
	}

	key := sessionKey(userID, role)

	s.mu.Lock()
	if session, ok := s.sessions[key]; ok {
		s.mu.Unlock()
		return session, nil
	}

	provider, err := s.providers(userID, role)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to create sync provider: %w", err)
	}

	session := portalsync.NewSession(provider, s.logger)
	session.OnNotification(s.delivery.DeliverNotification)
	s.sessions[key] = session
	s.mu.Unlock()

	if err := session.Initialize(ctx, userID, role); err != nil {
		s.logger.Warn("SyncService", "Session initialization failed, will reconnect", map[string]interface{}{
			"user_id": userID, "role": role, "error": err.Error(),
		})
	}
	return session, nil
}

func (s *syncService) Status(ctx context.Context, userID, role string) (*dto.SyncStatusResponse, error) {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return &dto.SyncStatusResponse{
		State:         session.State(),
		LastSyncedAt:  session.LastSyncedAt(),
		Errors:        session.Errors(),
		Notifications: session.Notifications(),
	}, nil
}

func (s *syncService) ForceSync(ctx context.Context, userID, role string) error {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return err
	}
	return session.ForceSync(ctx)
}

func (s *syncService) SharedStates(ctx context.Context, userID, role string) ([]portalsync.SharedStateRecord, error) {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return session.GetSharedStates(ctx, userID)
}

func (s *syncService) Metrics(ctx context.Context, userID, role string, rng portalsync.MetricRange) ([]portalsync.UnifiedMetric, error) {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	return session.GetFinancialMetrics(ctx, rng)
}

func (s *syncService) SendNotification(ctx context.Context, userID, role string, req *dto.SendNotificationRequest) error {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return err
	}
	return session.SendCrossNotification(ctx, portalsync.CrossNotification{
		SenderID:       userID,
		SenderType:     role,
		TargetUserType: req.TargetUserType,
		Title:          req.Title,
		Message:        req.Message,
	})
}

func (s *syncService) UpdateSharedState(ctx context.Context, userID, role string, req *dto.UpdateSharedStateRequest) error {
	session, err := s.Session(ctx, userID, role)
	if err != nil {
		return err
	}
	return session.UpdateSharedStateServer(ctx, req.EntityID, portalsync.EntityType(req.EntityType), req.Data)
}

// TeardownAll releases every session. Called on shutdown and when realtime is
// disabled at runtime.
func (s *syncService) TeardownAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*portalsync.Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Teardown()
	}
}
