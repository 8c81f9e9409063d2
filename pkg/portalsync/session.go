package portalsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/events"
)

const (
	errorCooldown   = 5 * time.Second
	reconnectDelay  = 10 * time.Second
	maxErrors       = 5
	notificationCap = 50
	metricsCap      = 100
)

// NotificationSink receives cross notifications as they arrive, typically the
// websocket hub pushing them to connected portal clients.
type NotificationSink func(notification CrossNotification)

// Session maintains one logical connection to the event-channel provider per
// (user, role) pair and exposes an eventually-consistent view of shared state
// and notifications. All mutable collections are owned exclusively by the
// session; readers only ever get copies.
type Session struct {
	mu sync.Mutex

	userID string
	role   string
	state  SessionState

	provider Provider
	logger   logger.ILogger
	sink     NotificationSink

	subs          []Subscription
	sharedStates  map[string]SharedStateRecord
	notifications []CrossNotification
	metrics       []UnifiedMetric
	errors        []SyncError
	lastReported  map[string]time.Time

	reconnectTimer *time.Timer
	generation     int
	lastSyncedAt   time.Time
	closed         bool

	now           func() time.Time
	reconnectWait time.Duration
}

func NewSession(provider Provider, log logger.ILogger) *Session {
	return &Session{
		state:         StateDisconnected,
		provider:      provider,
		logger:        log,
		sharedStates:  make(map[string]SharedStateRecord),
		lastReported:  make(map[string]time.Time),
		now:           time.Now,
		reconnectWait: reconnectDelay,
	}
}

// OnNotification installs the realtime delivery sink. Must be called before
// Initialize.
func (s *Session) OnNotification(sink NotificationSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Initialize opens the logical provider session, registers the channel
// subscriptions and loads the initial snapshot. Calling it while already
// connected (or while a connect is in progress) is a no-op.
func (s *Session) Initialize(ctx context.Context, userID, role string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is torn down")
	}
	switch s.state {
	case StateConnected, StateConnecting, StateSyncing:
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.userID = userID
	s.role = role
	gen := s.generation
	s.mu.Unlock()

	if err := s.connect(ctx, gen); err != nil {
		s.HandleError(CategoryInitialization, err)
		s.mu.Lock()
		if s.generation == gen {
			s.state = StateError
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.state = StateConnected
		s.lastSyncedAt = s.now()
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) connect(ctx context.Context, gen int) error {
	if err := s.provider.Open(ctx, s.userID, s.role); err != nil {
		return fmt.Errorf("failed to open provider session: %w", err)
	}

	var subs []Subscription
	for _, channel := range events.PortalChannels {
		ch := channel
		sub, err := s.provider.Subscribe(ch, func(ctx context.Context, event events.Event) error {
			return s.applyChannelEvent(ctx, gen, ch, event)
		})
		if err != nil {
			releaseAll(subs)
			return fmt.Errorf("failed to subscribe to %s: %w", ch, err)
		}
		subs = append(subs, sub)
	}

	catchAll, err := s.provider.Subscribe(events.ChannelCatchAll, func(ctx context.Context, event events.Event) error {
		s.logger.Debug("SyncSession", "Uncategorized channel event", map[string]interface{}{"type": event.EventType()})
		return nil
	})
	if err != nil {
		releaseAll(subs)
		return fmt.Errorf("failed to register catch-all subscription: %w", err)
	}
	subs = append(subs, catchAll)

	s.mu.Lock()
	if s.generation != gen || s.closed {
		s.mu.Unlock()
		releaseAll(subs)
		return fmt.Errorf("session torn down during connect")
	}
	s.subs = subs
	s.mu.Unlock()

	if err := s.loadInitialSnapshot(ctx, gen); err != nil {
		s.HandleError(CategoryLoadInitialData, err)
		// Stale cache is still serviceable; the connection itself is up.
	}
	return nil
}

func (s *Session) loadInitialSnapshot(ctx context.Context, gen int) error {
	metrics, err := s.provider.GetFinancialMetrics(ctx, MetricRange{})
	if err != nil {
		return fmt.Errorf("failed to load unified metrics: %w", err)
	}
	states, err := s.provider.GetSharedStates(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("failed to load shared states: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// Session has been torn down since the request went out; discard.
		return nil
	}
	for _, m := range metrics {
		s.mergeMetricLocked(m)
	}
	for _, r := range states {
		s.upsertSharedStateLocked(r)
	}
	s.lastSyncedAt = s.now()
	return nil
}

func (s *Session) applyChannelEvent(ctx context.Context, gen int, channel string, event events.Event) error {
	s.mu.Lock()
	live := s.generation == gen && !s.closed
	s.mu.Unlock()
	if !live {
		return nil
	}

	switch channel {
	case events.ChannelRealtimeNotifications:
		n, err := recordFromPayload[CrossNotification](event.Payload())
		if err != nil {
			return fmt.Errorf("malformed notification payload: %w", err)
		}
		s.pushNotification(n)

	case events.ChannelCompanyDebtorSync, events.ChannelDashboardUpdate:
		record, err := recordFromPayload[SharedStateRecord](event.Payload())
		if err != nil {
			return fmt.Errorf("malformed shared-state payload: %w", err)
		}
		s.UpdateLocalSharedState(record)

	case events.ChannelSharedAnalyticsSync:
		metric, err := recordFromPayload[UnifiedMetric](event.Payload())
		if err != nil {
			return fmt.Errorf("malformed metric payload: %w", err)
		}
		s.mu.Lock()
		s.mergeMetricLocked(metric)
		s.mu.Unlock()
	}
	return nil
}

// HandleError records a failure unless the same category was reported within
// the cooldown window. Duplicate reports inside the window are swallowed to
// avoid UI churn.
func (s *Session) HandleError(category string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowTs := s.now()
	if last, ok := s.lastReported[category]; ok && nowTs.Sub(last) < errorCooldown {
		return
	}
	s.lastReported[category] = nowTs

	s.errors = append(s.errors, SyncError{
		Category:  category,
		Message:   err.Error(),
		Timestamp: nowTs,
	})
	if len(s.errors) > maxErrors {
		s.errors = s.errors[len(s.errors)-maxErrors:]
	}

	s.logger.Warn("SyncSession", "Sync error recorded", map[string]interface{}{
		"category": category,
		"error":    err.Error(),
		"user_id":  s.userID,
		"role":     s.role,
	})
}

// UpdateLocalSharedState upserts by entity id. The record with the newer
// UpdatedAt wins regardless of arrival order, so a delayed retransmission of
// an old write can never clobber a fresher one.
func (s *Session) UpdateLocalSharedState(record SharedStateRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertSharedStateLocked(record)
}

func (s *Session) upsertSharedStateLocked(record SharedStateRecord) {
	existing, ok := s.sharedStates[record.EntityID]
	if ok && existing.UpdatedAt.After(record.UpdatedAt) {
		return
	}
	s.sharedStates[record.EntityID] = record
}

// SendCrossNotification publishes a notification to the other portal. The
// failure is recorded locally and re-returned so the initiating UI action can
// report it.
func (s *Session) SendCrossNotification(ctx context.Context, n CrossNotification) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now()
	}
	if err := s.provider.PublishNotification(ctx, n); err != nil {
		s.HandleError(CategorySendNotification, err)
		return fmt.Errorf("failed to send cross notification: %w", err)
	}
	return nil
}

// UpdateSharedStateServer writes a shared-state change through the provider.
func (s *Session) UpdateSharedStateServer(ctx context.Context, entityID string, entityType EntityType, data map[string]interface{}) error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if err := s.provider.UpdateSharedState(ctx, entityID, entityType, data); err != nil {
		s.HandleError(CategoryUpdateSharedState, err)
		return fmt.Errorf("failed to update shared state: %w", err)
	}
	return nil
}

// GetSharedStates queries the provider and refreshes the local cache with the
// returned rows.
func (s *Session) GetSharedStates(ctx context.Context, ownerID string) ([]SharedStateRecord, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	records, err := s.provider.GetSharedStates(ctx, ownerID)
	if err != nil {
		s.HandleError(CategoryGetSharedStates, err)
		return nil, fmt.Errorf("failed to get shared states: %w", err)
	}
	s.mu.Lock()
	for _, r := range records {
		s.upsertSharedStateLocked(r)
	}
	s.mu.Unlock()
	return records, nil
}

// GetFinancialMetrics queries the provider for the unified metric history in
// the given range.
func (s *Session) GetFinancialMetrics(ctx context.Context, rng MetricRange) ([]UnifiedMetric, error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	metrics, err := s.provider.GetFinancialMetrics(ctx, rng)
	if err != nil {
		s.HandleError(CategoryGetFinancial, err)
		return nil, fmt.Errorf("failed to get financial metrics: %w", err)
	}
	s.mu.Lock()
	for _, m := range metrics {
		s.mergeMetricLocked(m)
	}
	s.mu.Unlock()
	return metrics, nil
}

// ForceSync re-runs the initial snapshot load without tearing the connection
// down. Connected -> Syncing -> Connected.
func (s *Session) ForceSync(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot force sync in state %s", state)
	}
	s.state = StateSyncing
	gen := s.generation
	s.mu.Unlock()

	err := s.loadInitialSnapshot(ctx, gen)

	s.mu.Lock()
	if s.generation == gen && s.state == StateSyncing {
		s.state = StateConnected
	}
	s.mu.Unlock()

	if err != nil {
		s.HandleError(CategoryForceSync, err)
		return fmt.Errorf("force sync failed: %w", err)
	}
	return nil
}

// Teardown releases all channel subscriptions, cancels any pending reconnect
// timer and invalidates in-flight responses.
func (s *Session) Teardown() {
	s.mu.Lock()
	s.closed = true
	s.generation++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	subs := s.subs
	s.subs = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	releaseAll(subs)
	if err := s.provider.Teardown(); err != nil {
		s.logger.Warn("SyncSession", "Provider teardown failed", map[string]interface{}{"error": err.Error()})
	}
}

// scheduleReconnectLocked arms the single-flight reconnect timer. A second
// timer is never scheduled while one is outstanding.
func (s *Session) scheduleReconnectLocked() {
	if s.reconnectTimer != nil || s.closed {
		return
	}
	s.reconnectTimer = time.AfterFunc(s.reconnectWait, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		retry := s.state == StateError && !s.closed
		if retry {
			s.state = StateDisconnected
		}
		userID, role := s.userID, s.role
		s.mu.Unlock()

		if retry {
			if err := s.Initialize(context.Background(), userID, role); err != nil {
				s.logger.Warn("SyncSession", "Reconnect attempt failed", map[string]interface{}{"error": err.Error()})
			}
		}
	})
}

func (s *Session) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return fmt.Errorf("session not connected (state: %s)", s.state)
	}
	return nil
}

func (s *Session) pushNotification(n CrossNotification) {
	s.mu.Lock()
	// Newest first, oldest evicted beyond capacity.
	s.notifications = append([]CrossNotification{n}, s.notifications...)
	if len(s.notifications) > notificationCap {
		s.notifications = s.notifications[:notificationCap]
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink(n)
	}
}

// mergeMetricLocked merges by metric id, appending new ids and bounding the
// history to the most recent snapshots.
func (s *Session) mergeMetricLocked(metric UnifiedMetric) {
	for i := range s.metrics {
		if s.metrics[i].ID == metric.ID {
			s.metrics[i] = metric
			return
		}
	}
	s.metrics = append(s.metrics, metric)
	if len(s.metrics) > metricsCap {
		s.metrics = s.metrics[len(s.metrics)-metricsCap:]
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSyncedAt returns when the last full snapshot was applied.
func (s *Session) LastSyncedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncedAt
}

// Errors returns a copy of the bounded error ledger.
func (s *Session) Errors() []SyncError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SyncError, len(s.errors))
	copy(out, s.errors)
	return out
}

// Notifications returns a copy of the ring buffer, newest first.
func (s *Session) Notifications() []CrossNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CrossNotification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// SharedStates returns a copy of the shared-state cache.
func (s *Session) SharedStates() []SharedStateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SharedStateRecord, 0, len(s.sharedStates))
	for _, r := range s.sharedStates {
		out = append(out, r)
	}
	return out
}

// Metrics returns a copy of the bounded metric history.
func (s *Session) Metrics() []UnifiedMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UnifiedMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

func releaseAll(subs []Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
