package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/events"
	"debt-negotiation-be/pkg/portalsync"
)

const (
	streamName    = "PORTAL"
	subjectPrefix = "portal."

	sharedStateHash = "portal:shared_state"
	metricsHash     = "portal:unified_metrics"
)

// Provider is the production event-channel provider: channel fanout over NATS
// JetStream, shared-state and metrics rows in Redis. One Provider instance
// backs one logical session.
type Provider struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	rdb *redis.Client
	log logger.ILogger

	userID string
	role   string
}

var _ portalsync.Provider = (*Provider)(nil)

// NewProvider connects to NATS and ensures the portal stream exists.
func NewProvider(url string, rdb *redis.Client, log logger.ILogger) (*Provider, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// LimitsPolicy: every session's consumer sees every event, so both
	// portals receive the same broadcast.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		log.Warn("NatsProvider", "Failed to ensure portal stream", map[string]interface{}{"error": err.Error()})
		// NATS may not be ready yet or the stream already exists with other
		// settings; the session retries through its own reconnect path.
	}

	return &Provider{nc: nc, js: js, rdb: rdb, log: log}, nil
}

// Open records the session identity. The connection itself is established in
// NewProvider; a dead connection surfaces here.
func (p *Provider) Open(ctx context.Context, userID, role string) error {
	if !p.nc.IsConnected() && !p.nc.IsReconnecting() {
		return fmt.Errorf("NATS connection is closed")
	}
	p.userID = userID
	p.role = role
	return nil
}

type consumeSubscription struct {
	cc jetstream.ConsumeContext
}

func (s *consumeSubscription) Unsubscribe() error {
	s.cc.Stop()
	return nil
}

// Subscribe registers an ephemeral ordered consumer for one channel (or the
// whole portal subject space for the catch-all). Delivery within a channel is
// in stream order.
func (p *Provider) Subscribe(channel string, handler portalsync.EventHandler) (portalsync.Subscription, error) {
	subject := subjectPrefix + channel
	if channel == events.ChannelCatchAll {
		subject = subjectPrefix + ">"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumer, err := p.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Data(), &payload); err != nil {
			p.log.Warn("NatsProvider", "Malformed event payload", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			_ = msg.Nak()
			return
		}

		event := events.BaseEvent{
			Type:       strings.TrimPrefix(msg.Subject(), subjectPrefix),
			Data:       payload,
			OccurredAt: time.Now(),
		}
		if err := handler(context.Background(), event); err != nil {
			p.log.Warn("NatsProvider", "Event handler failed", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", subject, err)
	}

	return &consumeSubscription{cc: cc}, nil
}

// PublishNotification broadcasts a cross notification on the realtime channel.
func (p *Provider) PublishNotification(ctx context.Context, n portalsync.CrossNotification) error {
	return p.publish(ctx, events.ChannelRealtimeNotifications, n)
}

// UpdateSharedState persists the record row and broadcasts it on the
// company/debtor sync channel.
func (p *Provider) UpdateSharedState(ctx context.Context, entityID string, entityType portalsync.EntityType, data map[string]interface{}) error {
	record := portalsync.SharedStateRecord{
		EntityID:   entityID,
		EntityType: entityType,
		Data:       data,
		UpdatedAt:  time.Now(),
		UpdatedBy:  p.userID,
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode shared state record: %w", err)
	}
	if err := p.rdb.HSet(ctx, sharedStateHash, entityID, raw).Err(); err != nil {
		return fmt.Errorf("failed to persist shared state record: %w", err)
	}

	return p.publish(ctx, events.ChannelCompanyDebtorSync, record)
}

// GetSharedStates returns the rows visible to ownerID; an empty owner returns
// everything.
func (p *Provider) GetSharedStates(ctx context.Context, ownerID string) ([]portalsync.SharedStateRecord, error) {
	rows, err := p.rdb.HGetAll(ctx, sharedStateHash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load shared states: %w", err)
	}

	records := make([]portalsync.SharedStateRecord, 0, len(rows))
	for _, raw := range rows {
		var record portalsync.SharedStateRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			p.log.Warn("NatsProvider", "Skipping corrupt shared state row", map[string]interface{}{"error": err.Error()})
			continue
		}
		if ownerID != "" && !recordVisibleTo(record, ownerID) {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func recordVisibleTo(record portalsync.SharedStateRecord, ownerID string) bool {
	if record.UpdatedBy == ownerID {
		return true
	}
	for _, key := range []string{"company_id", "debtor_id", "owner_id"} {
		if v, ok := record.Data[key].(string); ok && v == ownerID {
			return true
		}
	}
	return false
}

// GetFinancialMetrics returns the unified metric snapshots within the range.
func (p *Provider) GetFinancialMetrics(ctx context.Context, rng portalsync.MetricRange) ([]portalsync.UnifiedMetric, error) {
	rows, err := p.rdb.HGetAll(ctx, metricsHash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load unified metrics: %w", err)
	}

	metrics := make([]portalsync.UnifiedMetric, 0, len(rows))
	for _, raw := range rows {
		var metric portalsync.UnifiedMetric
		if err := json.Unmarshal([]byte(raw), &metric); err != nil {
			continue
		}
		if !rng.From.IsZero() && metric.RecordedAt.Before(rng.From) {
			continue
		}
		if !rng.To.IsZero() && metric.RecordedAt.After(rng.To) {
			continue
		}
		metrics = append(metrics, metric)
	}
	return metrics, nil
}

// Teardown closes the NATS connection. Consumers created through Subscribe
// must already be released by the session.
func (p *Provider) Teardown() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *Provider) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if _, err := p.js.Publish(ctx, subjectPrefix+channel, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}
