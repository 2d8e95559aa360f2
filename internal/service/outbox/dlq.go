package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DLQRecord — payload события, которое не удалось опубликовать за MaxAttempts попыток.
// Исходный payload сохраняется без изменений, чтобы событие можно было переиграть.
type DLQRecord struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"dlq_published_at"`
}

// dlqMessage заворачивает событие в DLQRecord; id и агрегат остаются прежними,
// так что ключ сообщения в DLQ тоже равен id заказа.
func dlqMessage(event domain.OutboxMessage, cause error, now time.Time) (domain.OutboxMessage, error) {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(DLQRecord{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		FailedAt:      now.UTC(),
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dlq record: %w", err)
	}
	return domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       body,
		CreatedAt:     event.CreatedAt,
	}, nil
}
