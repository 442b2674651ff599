// Package notifier publishes engagement and dispatch events to other services.
package notifier

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	TrackingExchange = "tracking"

	RoutingKeyEngagementRecorded = "engagement.recorded"
	RoutingKeyStepCompleted      = "step.completed"
)

type EngagementRecorded struct {
	TrackingID string    `json:"tracking_id"`
	EventType  string    `json:"event_type"`
	ClientID   uint      `json:"client_id"`
	StepID     uint      `json:"step_id,omitempty"`
	Email      string    `json:"email"`
	TargetURL  string    `json:"target_url,omitempty"`
	IsBot      bool      `json:"is_bot"`
	Timestamp  time.Time `json:"timestamp"`
}

type StepCompleted struct {
	StepID      uint      `json:"step_id"`
	ClientID    uint      `json:"client_id"`
	Sent        int       `json:"sent"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier is told about recorded engagements and finished steps. Delivery
// is best effort; callers log and ignore errors.
type Notifier interface {
	EngagementRecorded(ctx context.Context, event EngagementRecorded) error
	StepCompleted(ctx context.Context, event StepCompleted) error
}

// Publisher sends a JSON message to an exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message interface{}) error
}

// EventNotifier routes events to the tracking exchange.
type EventNotifier struct {
	publisher Publisher
	exchange  string
}

func NewEventNotifier(publisher Publisher) *EventNotifier {
	return &EventNotifier{publisher: publisher, exchange: TrackingExchange}
}

func (n *EventNotifier) EngagementRecorded(ctx context.Context, event EngagementRecorded) error {
	return n.publisher.Publish(ctx, n.exchange, RoutingKeyEngagementRecorded, event)
}

func (n *EventNotifier) StepCompleted(ctx context.Context, event StepCompleted) error {
	return n.publisher.Publish(ctx, n.exchange, RoutingKeyStepCompleted, event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) EngagementRecorded(_ context.Context, event EngagementRecorded) error {
	log.WithField("tracking_id", event.TrackingID).Debug("engagement notification skipped")
	return nil
}

func (Nop) StepCompleted(_ context.Context, event StepCompleted) error {
	log.WithField("step_id", event.StepID).Debug("step notification skipped")
	return nil
}
