package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// OrderLine — запрошенная позиция при оформлении заказа.
type OrderLine struct {
	ItemID string
	Count  int
}

// Service оркестрирует сценарии "загрузить, изменить, сохранить" для заказов.
//
// Каждая запись выполняется в одной единице работы: остатки, заказ и outbox-событие
// фиксируются вместе или не фиксируются вовсе.
type Service struct {
	uow     domain.UnitOfWork
	reads   domain.Repositories
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithMetrics включает сбор метрик.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт сервис заказов. reads используются для операций чтения вне единицы работы.
func NewService(uow domain.UnitOfWork, reads domain.Repositories, logger *log.Entry, opts ...Option) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "ordering")
	}
	s := &Service{
		uow:    uow,
		reads:  reads,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// PlaceOrder оформляет заказ на одну позицию и возвращает его идентификатор.
func (s *Service) PlaceOrder(ctx context.Context, memberID, itemID string, count int) (string, error) {
	return s.PlaceOrderLines(ctx, memberID, []OrderLine{{ItemID: itemID, Count: count}})
}

// PlaceOrderLines оформляет заказ на несколько позиций.
// Повторы одного товара списываются с одного и того же загруженного остатка.
func (s *Service) PlaceOrderLines(ctx context.Context, memberID string, lines []OrderLine) (string, error) {
	start := s.now()
	defer s.observe(metrics.OperationPlaceOrder, start)

	if len(lines) == 0 {
		s.fail(metrics.OperationPlaceOrder, domain.ErrItemsRequired)
		return "", domain.ErrItemsRequired
	}

	var (
		order *domain.Order
		units int
	)
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		member, err := repos.Members.FindByID(ctx, memberID)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ItemID)
		}
		loaded, err := repos.Items.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}
		ledger := make(domain.ItemSet, len(loaded))
		for i := range loaded {
			ledger[loaded[i].ID] = &loaded[i]
		}

		orderItems := make([]domain.OrderItem, 0, len(lines))
		units = 0
		for _, line := range lines {
			item, ok := ledger.Item(line.ItemID)
			if !ok {
				return domain.ErrItemNotFound
			}
			orderItem, err := domain.CreateOrderItem(item, item.Price, line.Count)
			if err != nil {
				return err
			}
			orderItems = append(orderItems, orderItem)
			units += line.Count
		}

		order, err = domain.CreateOrder(&member, domain.NewDelivery(member.Address), orderItems...)
		if err != nil {
			return err
		}

		for _, item := range ledger.Items() {
			if err := repos.Items.Save(ctx, *item); err != nil {
				return fmt.Errorf("save item %s: %w", item.ID, err)
			}
		}
		if err := repos.Orders.Save(ctx, *order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		return s.enqueue(ctx, repos.Outbox, domain.EventOrderPlaced, order)
	})
	if err != nil {
		s.fail(metrics.OperationPlaceOrder, err)
		s.logger.WithError(err).WithFields(log.Fields{
			"member_id": memberID,
			"lines":     len(lines),
		}).Warn("place order failed")
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderPlaced(units)
		s.metrics.RecordOutboxEvent()
	}
	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"member_id":   memberID,
		"total_price": order.TotalPrice(),
	}).Info("order placed")

	return order.ID, nil
}

// CancelOrder отменяет заказ и возвращает остатки.
// Заказ и товары сохраняются явно в той же единице работы.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	start := s.now()
	defer s.observe(metrics.OperationCancelOrder, start)

	var units int
	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		order, err := repos.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}

		loaded, err := repos.Items.FindByIDs(ctx, order.ItemIDs())
		if err != nil {
			return err
		}
		ledger := make(domain.ItemSet, len(loaded))
		for i := range loaded {
			ledger[loaded[i].ID] = &loaded[i]
		}

		if err := order.Cancel(ledger); err != nil {
			return err
		}

		for _, item := range ledger.Items() {
			if err := repos.Items.Save(ctx, *item); err != nil {
				return fmt.Errorf("save item %s: %w", item.ID, err)
			}
		}
		if err := repos.Orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		units = 0
		for _, line := range order.Items {
			units += line.Count
		}
		return s.enqueue(ctx, repos.Outbox, domain.EventOrderCanceled, &order)
	})
	if err != nil {
		s.fail(metrics.OperationCancelOrder, err)
		s.logger.WithError(err).WithField("order_id", orderID).Warn("cancel order failed")
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCanceled(units)
		s.metrics.RecordOutboxEvent()
	}
	s.logger.WithField("order_id", orderID).Info("order canceled")
	return nil
}

// SearchOrders ищет заказы по статусу и подстроке имени участника.
func (s *Service) SearchOrders(ctx context.Context, search domain.OrderSearch) ([]domain.OrderWithMember, error) {
	start := s.now()
	defer s.observe(metrics.OperationSearchOrders, start)

	if search.Status != nil && !search.Status.Valid() {
		err := fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidArgument, *search.Status)
		s.fail(metrics.OperationSearchOrders, err)
		return nil, err
	}

	result, err := s.reads.Orders.FindOrders(ctx, search)
	if err != nil {
		s.fail(metrics.OperationSearchOrders, err)
		return nil, err
	}
	return result, nil
}

// FindOrder возвращает заказ по идентификатору.
func (s *Service) FindOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.reads.Orders.FindByID(ctx, orderID)
}

// MemberOrders возвращает заказы участника. Обратной ссылки Member → Orders нет, поиск идёт через репозиторий.
func (s *Service) MemberOrders(ctx context.Context, memberID string) ([]domain.Order, error) {
	if _, err := s.reads.Members.FindByID(ctx, memberID); err != nil {
		return nil, err
	}
	return s.reads.Orders.FindByMember(ctx, memberID)
}

// UpdateDeliveryStatus продвигает доставку заказа. Повтор уже применённого статуса — no-op.
func (s *Service) UpdateDeliveryStatus(ctx context.Context, orderID string, status domain.DeliveryStatus) error {
	start := s.now()
	defer s.observe(metrics.OperationUpdateDelivery, start)

	if !status.Valid() {
		err := fmt.Errorf("%w: unknown delivery status %q", domain.ErrInvalidArgument, status)
		s.fail(metrics.OperationUpdateDelivery, err)
		return err
	}

	err := s.uow.Do(ctx, func(ctx context.Context, repos domain.Repositories) error {
		order, err := repos.Orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Delivery.Status == status {
			return nil
		}
		if order.Status == domain.OrderStatusCancel {
			return domain.ErrOrderAlreadyCanceled
		}
		if err := order.Delivery.Advance(status); err != nil {
			return err
		}
		return repos.Orders.Save(ctx, order)
	})
	if err != nil {
		s.fail(metrics.OperationUpdateDelivery, err)
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"status":   status,
		}).Warn("update delivery status failed")
		return err
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   status,
	}).Debug("delivery status updated")
	return nil
}

// orderEvent — полезная нагрузка outbox-событий заказа.
type orderEvent struct {
	OrderID    string           `json:"order_id"`
	MemberID   string           `json:"member_id"`
	Status     string           `json:"status"`
	TotalPrice int64            `json:"total_price"`
	Items      []orderEventItem `json:"items"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type orderEventItem struct {
	ItemID     string `json:"item_id"`
	OrderPrice int64  `json:"order_price"`
	Count      int    `json:"count"`
}

func (s *Service) enqueue(ctx context.Context, outbox domain.OutboxRepository, eventType string, order *domain.Order) error {
	event := orderEvent{
		OrderID:    order.ID,
		MemberID:   order.MemberID,
		Status:     string(order.Status),
		TotalPrice: order.TotalPrice(),
		Items:      make([]orderEventItem, 0, len(order.Items)),
		OccurredAt: s.now(),
	}
	for _, line := range order.Items {
		event.Items = append(event.Items, orderEventItem{
			ItemID:     line.ItemID,
			OrderPrice: line.OrderPrice,
			Count:      line.Count,
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	if _, err := outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

func (s *Service) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDuration(operation, s.now().Sub(start))
	}
}

func (s *Service) fail(operation string, err error) {
	if s.metrics != nil {
		s.metrics.RecordFailure(operation, FailureReason(err))
	}
}

// FailureReason сводит ошибку к короткой метке для метрик и логов.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrOrderNotCancelable):
		return "not_cancelable"
	case errors.Is(err, domain.ErrOrderAlreadyCanceled):
		return "already_canceled"
	case errors.Is(err, domain.ErrInvalidDeliveryTransition):
		return "invalid_transition"
	case domain.IsVersionConflict(err):
		return "version_conflict"
	case domain.IsInvalidArgument(err):
		return "invalid_argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
