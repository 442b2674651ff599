package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, message interface{}) error {
	args := m.Called(ctx, exchange, routingKey, message)
	return args.Error(0)
}

func TestEventNotifierRoutesEngagement(t *testing.T) {
	pub := new(mockPublisher)
	event := EngagementRecorded{TrackingID: "t1", EventType: "Open", ClientID: 4, Timestamp: time.Now()}
	pub.On("Publish", mock.Anything, TrackingExchange, RoutingKeyEngagementRecorded, event).Return(nil)

	err := NewEventNotifier(pub).EngagementRecorded(context.Background(), event)
	assert.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestEventNotifierRoutesStepCompleted(t *testing.T) {
	pub := new(mockPublisher)
	event := StepCompleted{StepID: 9, Sent: 97, Failed: 3}
	pub.On("Publish", mock.Anything, TrackingExchange, RoutingKeyStepCompleted, event).Return(errors.New("broker down"))

	err := NewEventNotifier(pub).StepCompleted(context.Background(), event)
	assert.EqualError(t, err, "broker down")
	pub.AssertExpectations(t)
}

func TestNopNeverFails(t *testing.T) {
	var n Notifier = Nop{}
	assert.NoError(t, n.EngagementRecorded(context.Background(), EngagementRecorded{}))
	assert.NoError(t, n.StepCompleted(context.Background(), StepCompleted{}))
}

func TestAMQPClientWithoutChannel(t *testing.T) {
	c := &AMQPClient{}
	err := c.Publish(context.Background(), TrackingExchange, "engagement.open", map[string]string{"a": "b"})
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}
