package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusOrder — заказ оформлен, остаток списан.
	OrderStatusOrder OrderStatus = "ORDER"
	// OrderStatusCancel — заказ отменён, остаток возвращён. Терминальное состояние.
	OrderStatusCancel OrderStatus = "CANCEL"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusOrder || s == OrderStatusCancel
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID string
	// ItemID ссылается на товар каталога.
	ItemID string
	// ItemName — снимок названия для отображения.
	ItemName string
	// OrderPrice — цена за единицу на момент заказа. Позже из товара не перечитывается.
	OrderPrice int64
	Count      int
}

// CreateOrderItem создаёт позицию и списывает остаток товара.
//
// Либо меняются и остаток, и появляется позиция, либо не меняется ничего.
func CreateOrderItem(item *Item, orderPrice int64, count int) (OrderItem, error) {
	if item == nil {
		return OrderItem{}, ErrItemNotFound
	}
	if count <= 0 {
		return OrderItem{}, ErrCountInvalid
	}
	if orderPrice < 0 {
		return OrderItem{}, ErrPriceNegative
	}
	if err := item.RemoveStock(count); err != nil {
		return OrderItem{}, err
	}
	return OrderItem{
		ID:         uuid.NewString(),
		ItemID:     item.ID,
		ItemName:   item.Name,
		OrderPrice: orderPrice,
		Count:      count,
	}, nil
}

// TotalPrice возвращает стоимость позиции.
func (oi OrderItem) TotalPrice() int64 {
	return oi.OrderPrice * int64(oi.Count)
}

// Order агрегирует состояние заказа, его позиции и доставку.
type Order struct {
	ID       string
	MemberID string
	// Items фиксируются при создании, порядок совпадает с порядком добавления.
	Items     []OrderItem
	Delivery  Delivery
	Status    OrderStatus
	OrderDate time.Time
	Version   int64
}

// CreateOrder собирает новый заказ из уже созданных позиций.
//
// Остаток к этому моменту списан в CreateOrderItem, фабрика только связывает ссылки.
func CreateOrder(member *Member, delivery Delivery, items ...OrderItem) (*Order, error) {
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if len(items) == 0 {
		return nil, ErrItemsRequired
	}

	lines := make([]OrderItem, len(items))
	copy(lines, items)

	return &Order{
		ID:        uuid.NewString(),
		MemberID:  member.ID,
		Items:     lines,
		Delivery:  delivery,
		Status:    OrderStatusOrder,
		OrderDate: time.Now().UTC(),
	}, nil
}

// Cancel переводит заказ в CANCEL и возвращает остатки по всем позициям.
//
// Все проверки выполняются до первой мутации: при ошибке не меняется ни заказ, ни товары.
func (o *Order) Cancel(stock StockLedger) error {
	if o.Delivery.Status == DeliveryStatusCompleted {
		return ErrOrderNotCancelable
	}
	if o.Status == OrderStatusCancel {
		return ErrOrderAlreadyCanceled
	}

	items := make([]*Item, len(o.Items))
	for i, line := range o.Items {
		item, ok := stock.Item(line.ItemID)
		if !ok {
			return ErrItemNotFound
		}
		if line.Count < 0 {
			return ErrQuantityNegative
		}
		items[i] = item
	}

	o.Status = OrderStatusCancel
	for i, line := range o.Items {
		// Count уже проверен, AddStock здесь не падает.
		_ = items[i].AddStock(line.Count)
	}
	return nil
}

// TotalPrice пересчитывает сумму заказа по снимкам позиций.
func (o *Order) TotalPrice() int64 {
	var total int64
	for _, line := range o.Items {
		total += line.TotalPrice()
	}
	return total
}

// ItemIDs возвращает уникальные идентификаторы товаров заказа в порядке позиций.
func (o *Order) ItemIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, line := range o.Items {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}

// Validate проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) Validate() []error {
	var errs []error

	if o.MemberID == "" {
		errs = append(errs, ErrMemberNotFound)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, errors.New("unknown order status: "+string(o.Status)))
	}
	if !o.Delivery.Status.Valid() {
		errs = append(errs, ErrInvalidDeliveryTransition)
	}
	if err := o.Delivery.Address.Validate(); err != nil {
		errs = append(errs, err)
	}

	for _, line := range o.Items {
		if line.Count <= 0 {
			errs = append(errs, ErrCountInvalid)
		}
		if line.OrderPrice < 0 {
			errs = append(errs, ErrPriceNegative)
		}
	}

	return errs
}
