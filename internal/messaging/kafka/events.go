package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shop.order.events"
	TopicDeliveryEvents  = "shop.delivery.events"
	TopicDeadLetterQueue = "shop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEventEnvelope — сообщение topic'а заказов, обёртка над outbox-записью.
type OrderEventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// DeliveryEvent — изменение статуса доставки от службы доставки.
type DeliveryEvent struct {
	OrderID string                `json:"order_id"`
	Status  domain.DeliveryStatus `json:"status"`
}

// DLQMessage — сообщение, не обработанное после всех попыток.
type DLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// ErrMalformedEvent — сообщение нельзя разобрать, повтор не поможет.
var ErrMalformedEvent = errors.New("malformed event")

// ParseOrderEvent парсит OrderEventEnvelope из сообщения
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEventEnvelope, error) {
	var event OrderEventEnvelope
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("%w: order event: %w", ErrMalformedEvent, err)
	}
	return &event, nil
}

// ParseDeliveryEvent парсит и проверяет DeliveryEvent.
func ParseDeliveryEvent(message *sarama.ConsumerMessage) (*DeliveryEvent, error) {
	var event DeliveryEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("%w: delivery event: %w", ErrMalformedEvent, err)
	}
	if event.OrderID == "" {
		return nil, fmt.Errorf("%w: delivery event without order_id", ErrMalformedEvent)
	}
	if !event.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown delivery status %q", ErrMalformedEvent, event.Status)
	}
	return &event, nil
}

// ParseDLQMessage парсит сообщение из DLQ.
func ParseDLQMessage(value []byte) (*DLQMessage, error) {
	var msg DLQMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: dlq message: %w", ErrMalformedEvent, err)
	}
	if msg.OriginalTopic == "" {
		return nil, fmt.Errorf("%w: dlq message without original_topic", ErrMalformedEvent)
	}
	return &msg, nil
}
