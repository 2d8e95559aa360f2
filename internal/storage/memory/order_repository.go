package memory

import (
	"context"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository поверх Store.
type orderRepository struct {
	store *Store
	tx    *txState
}

// FindByID возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.lookupOrder(r.tx, id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// Save вставляет новый заказ или перезаписывает существующий, проверяя версию (optimistic locking).
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx == nil {
		r.store.writeMu.Lock()
		defer r.store.writeMu.Unlock()
	}

	r.store.mu.RLock()
	current, exists := r.store.lookupOrder(r.tx, order.ID)
	_, memberExists := r.store.lookupMember(r.tx, order.MemberID)
	r.store.mu.RUnlock()

	switch {
	case order.Version == 0 && exists:
		return domain.ErrVersionConflict
	case order.Version != 0 && !exists:
		return domain.ErrOrderNotFound
	case exists && current.Version != order.Version:
		return domain.ErrVersionConflict
	case !memberExists:
		return domain.ErrMemberNotFound
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	order = cloneOrder(order)

	if r.tx != nil {
		r.tx.orders[order.ID] = order
		return nil
	}

	r.store.mu.Lock()
	r.store.orders[order.ID] = order
	r.store.mu.Unlock()
	return nil
}

// FindOrders фильтрует заказы по статусу и подстроке username, не больше MaxSearchResults.
func (r *orderRepository) FindOrders(ctx context.Context, search domain.OrderSearch) ([]domain.OrderWithMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.queries.Add(1)

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.OrderWithMember, 0)
	for _, order := range r.store.allOrders(r.tx) {
		if search.Status != nil && order.Status != *search.Status {
			continue
		}
		member, ok := r.store.lookupMember(r.tx, order.MemberID)
		if !ok {
			continue
		}
		if search.MemberName != "" && !strings.Contains(member.Username, search.MemberName) {
			continue
		}
		result = append(result, domain.OrderWithMember{Order: order, Member: member})
		if len(result) >= domain.MaxSearchResults {
			break
		}
	}
	return result, nil
}

// FindByMember возвращает заказы участника по дате оформления.
func (r *orderRepository) FindByMember(ctx context.Context, memberID string) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.allOrders(r.tx) {
		if order.MemberID == memberID {
			result = append(result, order)
		}
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
