package dto

import (
	"time"

	"debt-negotiation-be/pkg/portalsync"
)

type SyncStatusResponse struct {
	State         portalsync.SessionState        `json:"state"`
	LastSyncedAt  time.Time                      `json:"last_synced_at"`
	Errors        []portalsync.SyncError         `json:"errors"`
	Notifications []portalsync.CrossNotification `json:"notifications"`
}

type SendNotificationRequest struct {
	TargetUserType string `json:"target_user_type" validate:"omitempty,oneof=company debtor"`
	Title          string `json:"title" validate:"required"`
	Message        string `json:"message" validate:"required"`
}

type UpdateSharedStateRequest struct {
	EntityID   string                 `json:"entity_id" validate:"required"`
	EntityType string                 `json:"entity_type" validate:"required,oneof=negotiation agreement payment debt financial_progress other"`
	Data       map[string]interface{} `json:"data" validate:"required"`
}
