package portalsync

import (
	"context"
	"encoding/json"
	"time"

	"debt-negotiation-be/pkg/events"
)

// Portal roles. Each (user, role) pair owns exactly one logical session.
const (
	RoleCompany = "company"
	RoleDebtor  = "debtor"
)

// SessionState is the connection lifecycle of one SyncSession.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateSyncing      SessionState = "syncing"
	StateError        SessionState = "error"
)

// EntityType classifies a SharedStateRecord.
type EntityType string

const (
	EntityNegotiation       EntityType = "negotiation"
	EntityAgreement         EntityType = "agreement"
	EntityPayment           EntityType = "payment"
	EntityDebt              EntityType = "debt"
	EntityFinancialProgress EntityType = "financial_progress"
	EntityOther             EntityType = "other"
)

// SharedStateRecord is the canonical cross-portal representation of one
// business entity's current status. Records are superseded, never deleted.
type SharedStateRecord struct {
	EntityID   string                 `json:"entity_id"`
	EntityType EntityType             `json:"entity_type"`
	Data       map[string]interface{} `json:"data"`
	UpdatedAt  time.Time              `json:"updated_at"`
	UpdatedBy  string                 `json:"updated_by"`
}

// CrossNotification is a transient message broadcast from one portal session
// to another. Retained only in a bounded in-memory buffer, never persisted.
type CrossNotification struct {
	SenderID       string    `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	TargetUserType string    `json:"target_user_type,omitempty"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
}

// UnifiedMetric is one aggregated counters snapshot shared across portals.
type UnifiedMetric struct {
	ID                    string    `json:"id"`
	TotalNegotiations     int       `json:"total_negotiations"`
	ActiveNegotiations    int       `json:"active_negotiations"`
	CompletedNegotiations int       `json:"completed_negotiations"`
	TotalVolume           float64   `json:"total_volume"`
	SuccessRate           float64   `json:"success_rate"`
	AverageResponseTime   float64   `json:"average_response_time"`
	CrossPortalActivity   int       `json:"cross_portal_activity"`
	RecordedAt            time.Time `json:"recorded_at"`
}

// MetricRange selects the window for a financial metrics query.
type MetricRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Error categories. Intentionally coarse so the cooldown table stays bounded.
const (
	CategoryInitialization    = "initialization"
	CategoryLoadInitialData   = "load_initial_data"
	CategorySendNotification  = "send_notification"
	CategoryUpdateSharedState = "update_shared_state"
	CategoryGetSharedStates   = "get_shared_states"
	CategoryGetFinancial      = "get_financial_metrics"
	CategoryForceSync         = "force_sync"
)

// SyncError is one recorded failure, bounded to the most recent few.
type SyncError struct {
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler processes one channel event. Events within a single channel
// are applied in arrival order; there is no cross-channel ordering guarantee.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscription is a live channel subscription that must be released on
// session teardown.
type Subscription interface {
	Unsubscribe() error
}

// Provider is the external event-channel and query surface the session
// consumes. The hosted backend is opaque behind this contract.
type Provider interface {
	Open(ctx context.Context, userID, role string) error
	Subscribe(channel string, handler EventHandler) (Subscription, error)
	GetSharedStates(ctx context.Context, ownerID string) ([]SharedStateRecord, error)
	GetFinancialMetrics(ctx context.Context, rng MetricRange) ([]UnifiedMetric, error)
	PublishNotification(ctx context.Context, notification CrossNotification) error
	UpdateSharedState(ctx context.Context, entityID string, entityType EntityType, data map[string]interface{}) error
	Teardown() error
}

// recordFromPayload re-materializes a typed record from a generic event
// payload via a JSON round trip.
func recordFromPayload[T any](payload map[string]interface{}) (T, error) {
	var out T
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
