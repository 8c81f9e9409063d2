package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"debt-negotiation-be/pkg/events"
	"debt-negotiation-be/pkg/portalsync"
)

const (
	firehoseTopic  = "portal.firehose"
	channelMetaKey = "channel"
)

// Bus is the in-process stand-in for the hosted event provider: Watermill
// gochannel fanout plus in-memory state tables. Both portal sessions of a
// single-node deployment (and the tests) share one Bus.
type Bus struct {
	pubSub *gochannel.GoChannel

	mu           sync.Mutex
	sharedStates map[string]portalsync.SharedStateRecord
	metrics      map[string]portalsync.UnifiedMetric
}

func NewBus() *Bus {
	return &Bus{
		pubSub:       gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}),
		sharedStates: make(map[string]portalsync.SharedStateRecord),
		metrics:      make(map[string]portalsync.UnifiedMetric),
	}
}

// SeedMetric installs a metric snapshot, for tests and local bootstrapping.
func (b *Bus) SeedMetric(metric portalsync.UnifiedMetric) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[metric.ID] = metric
}

// SeedSharedState installs a shared-state row.
func (b *Bus) SeedSharedState(record portalsync.SharedStateRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sharedStates[record.EntityID] = record
}

// NewProvider returns a provider view bound to this bus. Each session gets
// its own view so subscriptions tear down independently.
func (b *Bus) NewProvider() *InProcProvider {
	return &InProcProvider{bus: b}
}

// InProcProvider implements the provider contract against a shared Bus.
type InProcProvider struct {
	bus *Bus

	mu      sync.Mutex
	userID  string
	role    string
	cancels []context.CancelFunc
	closed  bool
}

var _ portalsync.Provider = (*InProcProvider)(nil)

func (p *InProcProvider) Open(ctx context.Context, userID, role string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("provider is torn down")
	}
	p.userID = userID
	p.role = role
	return nil
}

type cancelSubscription struct {
	cancel context.CancelFunc
}

func (s *cancelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Subscribe delivers topic messages in publish order; the catch-all channel
// reads the firehose copy of every event.
func (p *InProcProvider) Subscribe(channel string, handler portalsync.EventHandler) (portalsync.Subscription, error) {
	topic := channel
	if channel == events.ChannelCatchAll {
		topic = firehoseTopic
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := p.bus.pubSub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	go func() {
		for msg := range msgs {
			var payload map[string]interface{}
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				msg.Ack()
				continue
			}
			event := events.BaseEvent{
				Type:       msg.Metadata.Get(channelMetaKey),
				Data:       payload,
				OccurredAt: time.Now(),
			}
			// Errors are the handler's to record; the bus has no redelivery.
			_ = handler(ctx, event)
			msg.Ack()
		}
	}()

	return &cancelSubscription{cancel: cancel}, nil
}

func (p *InProcProvider) PublishNotification(ctx context.Context, n portalsync.CrossNotification) error {
	return p.publish(events.ChannelRealtimeNotifications, n)
}

func (p *InProcProvider) UpdateSharedState(ctx context.Context, entityID string, entityType portalsync.EntityType, data map[string]interface{}) error {
	p.mu.Lock()
	userID := p.userID
	p.mu.Unlock()

	record := portalsync.SharedStateRecord{
		EntityID:   entityID,
		EntityType: entityType,
		Data:       data,
		UpdatedAt:  time.Now(),
		UpdatedBy:  userID,
	}

	p.bus.mu.Lock()
	p.bus.sharedStates[entityID] = record
	p.bus.mu.Unlock()

	return p.publish(events.ChannelCompanyDebtorSync, record)
}

func (p *InProcProvider) GetSharedStates(ctx context.Context, ownerID string) ([]portalsync.SharedStateRecord, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	out := make([]portalsync.SharedStateRecord, 0, len(p.bus.sharedStates))
	for _, record := range p.bus.sharedStates {
		out = append(out, record)
	}
	return out, nil
}

func (p *InProcProvider) GetFinancialMetrics(ctx context.Context, rng portalsync.MetricRange) ([]portalsync.UnifiedMetric, error) {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	out := make([]portalsync.UnifiedMetric, 0, len(p.bus.metrics))
	for _, metric := range p.bus.metrics {
		if !rng.From.IsZero() && metric.RecordedAt.Before(rng.From) {
			continue
		}
		if !rng.To.IsZero() && metric.RecordedAt.After(rng.To) {
			continue
		}
		out = append(out, metric)
	}
	return out, nil
}

// Teardown cancels any subscriptions the session did not release itself.
func (p *InProcProvider) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
	return nil
}

func (p *InProcProvider) publish(channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	for _, topic := range []string{channel, firehoseTopic} {
		msg := message.NewMessage(watermill.NewUUID(), data)
		msg.Metadata.Set(channelMetaKey, channel)
		if err := p.bus.pubSub.Publish(topic, msg); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
	}
	return nil
}
