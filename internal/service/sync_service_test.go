package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/bus"
	"debt-negotiation-be/pkg/flags"
	"debt-negotiation-be/pkg/portalsync"
)

func newSyncFixture(t *testing.T) (ISyncService, *flags.Store, *bus.Bus, *captureDelivery) {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNopLogger()

	registry := flags.NewStore(ctx, flags.NewMemorySnapshotStore(), log)
	if err := registry.SetFlag(ctx, flags.KeyRealTimeEnabled, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}

	sharedBus := bus.NewBus()
	delivery := &captureDelivery{}
	svc := NewSyncService(func(userID, role string) (portalsync.Provider, error) {
		return sharedBus.NewProvider(), nil
	}, delivery, registry, log)
	t.Cleanup(svc.TeardownAll)

	return svc, registry, sharedBus, delivery
}

func TestSessionIsCachedPerUserAndRole(t *testing.T) {
	svc, _, _, _ := newSyncFixture(t)
	ctx := context.Background()

	first, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.NoError(t, err)
	second, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.NoError(t, err)
	assert.Same(t, first, second)

	// Same user under the other role is a distinct logical session.
	other, err := svc.Session(ctx, "debtor-1", portalsync.RoleCompany)
	assert.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestSessionDeniedWhileRealtimeDisabled(t *testing.T) {
	svc, registry, _, _ := newSyncFixture(t)
	ctx := context.Background()

	assert.NoError(t, registry.SetFlag(ctx, flags.KeyRealTimeEnabled, false))

	_, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.Error(t, err)
}

func TestDisablingRealtimeTearsDownLiveSessions(t *testing.T) {
	svc, registry, _, _ := newSyncFixture(t)
	ctx := context.Background()

	session, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.NoError(t, err)
	assert.Equal(t, portalsync.StateConnected, session.State())

	assert.NoError(t, registry.SetFlag(ctx, flags.KeyRealTimeEnabled, false))
	assert.Equal(t, portalsync.StateDisconnected, session.State())
}

func TestProviderFactoryFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	log := logger.NewNopLogger()
	registry := flags.NewStore(ctx, flags.NewMemorySnapshotStore(), log)
	assert.NoError(t, registry.SetFlag(ctx, flags.KeyRealTimeEnabled, true))

	svc := NewSyncService(func(userID, role string) (portalsync.Provider, error) {
		return nil, errors.New("backend misconfigured")
	}, &captureDelivery{}, registry, log)
	t.Cleanup(svc.TeardownAll)

	_, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.Error(t, err)
}

func TestStatusReflectsLiveSession(t *testing.T) {
	svc, _, _, _ := newSyncFixture(t)

	status, err := svc.Status(context.Background(), "debtor-1", portalsync.RoleDebtor)
	assert.NoError(t, err)
	assert.Equal(t, portalsync.StateConnected, status.State)
	assert.False(t, status.LastSyncedAt.IsZero())
	assert.Empty(t, status.Errors)
}

func TestNotificationReachesOtherPortalDelivery(t *testing.T) {
	svc, _, _, delivery := newSyncFixture(t)
	ctx := context.Background()

	// Both sessions exist on the shared bus; the company session's inbound
	// subscription feeds the websocket delivery sink.
	_, err := svc.Session(ctx, "company-1", portalsync.RoleCompany)
	assert.NoError(t, err)

	err = svc.SendNotification(ctx, "debtor-1", portalsync.RoleDebtor, &dto.SendNotificationRequest{
		TargetUserType: portalsync.RoleCompany,
		Title:          "Pago registrado",
		Message:        "El deudor registró un pago",
	})
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		delivery.mu.Lock()
		defer delivery.mu.Unlock()
		return len(delivery.received) >= 1
	}, time.Second, 10*time.Millisecond)

	delivery.mu.Lock()
	defer delivery.mu.Unlock()
	assert.Equal(t, "Pago registrado", delivery.received[0].Title)
	assert.Equal(t, "debtor-1", delivery.received[0].SenderID)
}

func TestUpdateSharedStateVisibleToOtherSession(t *testing.T) {
	svc, _, sharedBus, _ := newSyncFixture(t)
	ctx := context.Background()

	err := svc.UpdateSharedState(ctx, "company-1", portalsync.RoleCompany, &dto.UpdateSharedStateRequest{
		EntityID:   "agr-1",
		EntityType: "agreement",
		Data:       map[string]interface{}{"status": "signed"},
	})
	assert.NoError(t, err)

	reader := sharedBus.NewProvider()
	states, err := reader.GetSharedStates(ctx, "debtor-1")
	assert.NoError(t, err)
	if assert.Len(t, states, 1) {
		assert.Equal(t, "agr-1", states[0].EntityID)
		assert.Equal(t, portalsync.EntityAgreement, states[0].EntityType)
		assert.Equal(t, "company-1", states[0].UpdatedBy)
	}
}

func TestMetricsQueryPassesRange(t *testing.T) {
	svc, _, sharedBus, _ := newSyncFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sharedBus.SeedMetric(portalsync.UnifiedMetric{ID: "m-old", RecordedAt: base})
	sharedBus.SeedMetric(portalsync.UnifiedMetric{ID: "m-new", RecordedAt: base.AddDate(0, 1, 0)})

	metrics, err := svc.Metrics(ctx, "company-1", portalsync.RoleCompany, portalsync.MetricRange{
		From: base.AddDate(0, 0, 15),
	})
	assert.NoError(t, err)
	if assert.Len(t, metrics, 1) {
		assert.Equal(t, "m-new", metrics[0].ID)
	}
}

func TestForceSyncRefreshesSeededState(t *testing.T) {
	svc, _, sharedBus, _ := newSyncFixture(t)
	ctx := context.Background()

	session, err := svc.Session(ctx, "debtor-1", portalsync.RoleDebtor)
	assert.NoError(t, err)
	assert.Empty(t, session.Metrics())

	sharedBus.SeedMetric(portalsync.UnifiedMetric{ID: "m1", TotalNegotiations: 4, RecordedAt: time.Now()})

	assert.NoError(t, svc.ForceSync(ctx, "debtor-1", portalsync.RoleDebtor))
	assert.Len(t, session.Metrics(), 1)
}
