package domain

import "time"

// MaxSearchResults ограничивает выдачу поиска заказов.
const MaxSearchResults = 1000

// OrderSearch — критерии поиска заказов. Пустые поля не фильтруют, заданные объединяются по AND.
type OrderSearch struct {
	Status *OrderStatus
	// MemberName — подстрока username, регистр учитывается.
	MemberName string
}

// OrderWithMember — заказ вместе с участником для отображения.
type OrderWithMember struct {
	Order  Order
	Member Member
}

// Page описывает offset/limit. Нулевое значение означает выборку без пагинации.
type Page struct {
	Offset int
	Limit  int
}

// IsZero сообщает, что пагинация не задана.
func (p Page) IsZero() bool {
	return p.Offset == 0 && p.Limit == 0
}

// Validate отклоняет отрицательные offset/limit.
func (p Page) Validate() error {
	if p.Offset < 0 || p.Limit < 0 {
		return ErrPageInvalid
	}
	return nil
}

// OrderSummaryRow — строка заказа, соединённая с участником и доставкой, без позиций.
type OrderSummaryRow struct {
	OrderID   string
	Username  string
	OrderDate time.Time
	Status    OrderStatus
	Address   Address
}

// OrderItemRow — позиция заказа с названием товара.
type OrderItemRow struct {
	OrderID    string
	ItemName   string
	OrderPrice int64
	Count      int
}

// OrderFlatRow — одна строка на пару (заказ, позиция).
type OrderFlatRow struct {
	OrderSummaryRow
	ItemName   string
	OrderPrice int64
	Count      int
}
