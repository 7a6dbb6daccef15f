package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/engine"
)

// NotificationPublisher publishes approval lifecycle events and escalation
// actions to NATS for consumption by the platform notifications service.
//
// Subject convention: notifications.approvals.<event_type>
// Event types: instance_created, auto_approved, decision_recorded,
//              instance_approved, instance_rejected, instance_cancelled,
//              reminder, escalation, auto_approve, expire
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType   string         `json:"event_type"`
	TenantID    string         `json:"tenant_id"`
	ActorID     string         `json:"actor_id,omitempty"`
	InstanceID  string         `json:"instance_id"`
	EntityType  string         `json:"entity_type,omitempty"`
	EntityID    string         `json:"entity_id,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishInstanceEvent publishes one approval lifecycle event.
func (p *NotificationPublisher) PublishInstanceEvent(ctx context.Context, eventType string, inst *engine.ApprovalInstance, actorID string, payload map[string]any) {
	if p.conn == nil || inst == nil {
		return
	}

	p.publish(eventType, &NotificationEvent{
		EventType:  eventType,
		TenantID:   inst.TenantID,
		ActorID:    actorID,
		InstanceID: inst.ID,
		EntityType: string(inst.EntityType),
		EntityID:   inst.EntityID,
		Severity:   "info",
		Payload:    payload,
	})
}

// PublishEscalationAction publishes one sweep action for the notifier.
func (p *NotificationPublisher) PublishEscalationAction(ctx context.Context, tenantID string, action engine.EscalationAction) {
	if p.conn == nil {
		return
	}

	p.publish(string(action.Type), &NotificationEvent{
		EventType:   string(action.Type),
		TenantID:    tenantID,
		InstanceID:  action.InstanceID,
		Severity:    action.Priority.String(),
		Description: action.Description,
		Payload:     action.Metadata,
	})
}

func (p *NotificationPublisher) publish(eventType string, event *NotificationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.approvals.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("instance_id", event.InstanceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("instance_id", event.InstanceID).
		Msg("notification: event published")
}
