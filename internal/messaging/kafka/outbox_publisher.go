package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OutboxTopicPublisher отправляет outbox-записи в один topic как OrderEventEnvelope.
// Ключ сообщения — id заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher возвращает publisher для topic; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("%w: kafka outbox publisher is not initialized", domain.ErrOutboxPublish)
	}
	return p.producer.PublishJSON(p.topic, partitionKey(event), envelopeOf(event, p.now()), map[string]string{
		HeaderEventType: event.EventType,
	})
}

func partitionKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

// envelopeOf заменяет пустой payload на JSON null, чтобы конверт оставался валидным.
func envelopeOf(event domain.OutboxMessage, at time.Time) OrderEventEnvelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return OrderEventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
