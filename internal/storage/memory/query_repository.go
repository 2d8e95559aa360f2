package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// queryRepository повторяет формы SQL-запросов проекций над картами Store.
// Каждый вызов считается одним запросом.
type queryRepository struct {
	store *Store
}

func (r *queryRepository) FindOrderSummaries(ctx context.Context, page domain.Page) ([]domain.OrderSummaryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	r.store.queries.Add(1)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows := make([]domain.OrderSummaryRow, 0)
	for _, order := range r.store.allOrders(nil) {
		member, ok := r.store.members[order.MemberID]
		if !ok {
			continue
		}
		rows = append(rows, summaryRow(order, member))
	}

	return applyPage(rows, page), nil
}

// FindOrderItemRows возвращает позиции заказов из orderIDs, сохраняя порядок позиций внутри заказа.
func (r *queryRepository) FindOrderItemRows(ctx context.Context, orderIDs []string) ([]domain.OrderItemRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.queries.Add(1)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	wanted := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = struct{}{}
	}

	rows := make([]domain.OrderItemRow, 0)
	for _, order := range r.store.allOrders(nil) {
		if _, ok := wanted[order.ID]; !ok {
			continue
		}
		for _, line := range order.Items {
			rows = append(rows, domain.OrderItemRow{
				OrderID:    order.ID,
				ItemName:   r.itemName(line),
				OrderPrice: line.OrderPrice,
				Count:      line.Count,
			})
		}
	}
	return rows, nil
}

func (r *queryRepository) FindOrderFlatRows(ctx context.Context) ([]domain.OrderFlatRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.queries.Add(1)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows := make([]domain.OrderFlatRow, 0)
	for _, order := range r.store.allOrders(nil) {
		member, ok := r.store.members[order.MemberID]
		if !ok {
			continue
		}
		summary := summaryRow(order, member)
		for _, line := range order.Items {
			rows = append(rows, domain.OrderFlatRow{
				OrderSummaryRow: summary,
				ItemName:        r.itemName(line),
				OrderPrice:      line.OrderPrice,
				Count:           line.Count,
			})
		}
	}
	return rows, nil
}

// itemName берёт актуальное название из каталога, как join с items в SQL.
func (r *queryRepository) itemName(line domain.OrderItem) string {
	if item, ok := r.store.items[line.ItemID]; ok {
		return item.Name
	}
	return line.ItemName
}

func summaryRow(order domain.Order, member domain.Member) domain.OrderSummaryRow {
	return domain.OrderSummaryRow{
		OrderID:   order.ID,
		Username:  member.Username,
		OrderDate: order.OrderDate,
		Status:    order.Status,
		Address:   order.Delivery.Address,
	}
}

func applyPage(rows []domain.OrderSummaryRow, page domain.Page) []domain.OrderSummaryRow {
	if page.Offset >= len(rows) {
		return rows[:0]
	}
	rows = rows[page.Offset:]
	if page.Limit > 0 && len(rows) > page.Limit {
		rows = rows[:page.Limit]
	}
	return rows
}

var _ domain.OrderQueryRepository = (*queryRepository)(nil)
