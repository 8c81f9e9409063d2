package events

import "time"

// Channel names are part of the external provider contract.
// They must match exactly what both portals subscribe to.
const (
	ChannelDashboardUpdate       = "dashboard_update"
	ChannelRealtimeNotifications = "realtime_notifications"
	ChannelCompanyDebtorSync     = "company_debtor_sync"
	ChannelSharedAnalyticsSync   = "shared_analytics_sync"
	ChannelCatchAll              = "*"
)

// PortalChannels lists the concrete (non-wildcard) channels a session subscribes to.
var PortalChannels = []string{
	ChannelDashboardUpdate,
	ChannelRealtimeNotifications,
	ChannelCompanyDebtorSync,
	ChannelSharedAnalyticsSync,
}

// Event defines the contract for all cross-portal events.
type Event interface {
	// EventType returns the channel or subject this event belongs to.
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// BaseEvent is the generic envelope used when re-materializing events
// received off the wire.
type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
