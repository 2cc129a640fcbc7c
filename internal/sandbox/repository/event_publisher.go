package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/mq"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/model"
	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

const headerEventType = "event_type"

// EventPublisher publishes sandbox lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event model.LifecycleEvent) error
}

// MQEventPublisher publishes lifecycle events to a message queue topic.
type MQEventPublisher struct {
	producer mq.Producer
	topic    string
}

func NewMQEventPublisher(producer mq.Producer, topic string) *MQEventPublisher {
	return &MQEventPublisher{producer: producer, topic: topic}
}

func (p *MQEventPublisher) Publish(ctx context.Context, event model.LifecycleEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	if event.Type == "" {
		return appErr.ValidationError("type", "required")
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = eventKey(event)
	message.SetHeader(headerEventType, string(event.Type))
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish lifecycle event failed")
	}
	return nil
}

// eventKey keeps all events of one sandbox, or one image, on the same partition.
func eventKey(event model.LifecycleEvent) string {
	if event.Name != "" {
		return event.Name
	}
	return fmt.Sprintf("%s-%d", event.ProblemName, event.ProblemID)
}
