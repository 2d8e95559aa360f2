package domain

import (
	"context"
	"time"
)

// Repositories — репозитории, привязанные к одной единице работы.
type Repositories struct {
	Members MemberRepository
	Items   ItemRepository
	Orders  OrderRepository
	Outbox  OutboxRepository
}

// UnitOfWork выполняет fn атомарно: все записи fn фиксируются вместе или не фиксируются вовсе.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// Типы событий заказа.
const (
	EventOrderPlaced   = "order.placed"
	EventOrderCanceled = "order.canceled"
	// AggregateOrder — тип агрегата в outbox.
	AggregateOrder = "order"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
