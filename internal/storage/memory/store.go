package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store — in-memory хранилище всех агрегатов для локальной разработки и тестов.
//
// Записи сериализуются writeMu: одновременно работает не больше одного писателя.
// Чтения берут только mu и могут выполняться параллельно.
type Store struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	members map[string]domain.Member
	items   map[string]domain.Item
	orders  map[string]domain.Order

	outbox  *outboxRepositoryInMemory
	queries atomic.Int64
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		members: make(map[string]domain.Member),
		items:   make(map[string]domain.Item),
		orders:  make(map[string]domain.Order),
		outbox:  NewOutboxRepository(),
	}
}

// Members возвращает репозиторий участников вне единицы работы.
func (s *Store) Members() domain.MemberRepository {
	return &memberRepository{store: s}
}

// Items возвращает репозиторий товаров вне единицы работы.
func (s *Store) Items() domain.ItemRepository {
	return &itemRepository{store: s}
}

// Orders возвращает репозиторий заказов вне единицы работы.
func (s *Store) Orders() domain.OrderRepository {
	return &orderRepository{store: s}
}

// Queries возвращает read-side репозиторий проекций.
func (s *Store) Queries() domain.OrderQueryRepository {
	return &queryRepository{store: s}
}

// Outbox возвращает outbox-хранилище.
func (s *Store) Outbox() *outboxRepositoryInMemory {
	return s.outbox
}

// QueryCount возвращает число выполненных read-side запросов.
func (s *Store) QueryCount() int64 {
	return s.queries.Load()
}

// ResetQueryCount обнуляет счётчик запросов.
func (s *Store) ResetQueryCount() {
	s.queries.Store(0)
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close ничего не освобождает, нужен для единого интерфейса с Postgres.
func (s *Store) Close() error {
	return nil
}

// Do выполняет fn в единице работы. Записи копятся в overlay и применяются только при успехе.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := newTxState()
	repos := domain.Repositories{
		Members: &memberRepository{store: s, tx: tx},
		Items:   &itemRepository{store: s, tx: tx},
		Orders:  &orderRepository{store: s, tx: tx},
		Outbox:  &txOutboxRepository{store: s, tx: tx},
	}

	if err := fn(ctx, repos); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *txState) {
	s.mu.Lock()
	for id, member := range tx.members {
		s.members[id] = member
	}
	for id, item := range tx.items {
		s.items[id] = item
	}
	for id, order := range tx.orders {
		s.orders[id] = order
	}
	s.mu.Unlock()

	for _, msg := range tx.outbox {
		// Enqueue in-memory реализации не возвращает ошибок.
		_, _ = s.outbox.Enqueue(context.Background(), msg)
	}
}

// txState — overlay незафиксированных записей единицы работы.
type txState struct {
	members map[string]domain.Member
	items   map[string]domain.Item
	orders  map[string]domain.Order
	outbox  []domain.OutboxMessage
}

func newTxState() *txState {
	return &txState{
		members: make(map[string]domain.Member),
		items:   make(map[string]domain.Item),
		orders:  make(map[string]domain.Order),
	}
}

// lookupMember читает участника с учётом overlay. Вызывающий держит s.mu на чтение.
func (s *Store) lookupMember(tx *txState, id string) (domain.Member, bool) {
	if tx != nil {
		if member, ok := tx.members[id]; ok {
			return member, true
		}
	}
	member, ok := s.members[id]
	return member, ok
}

func (s *Store) lookupItem(tx *txState, id string) (domain.Item, bool) {
	if tx != nil {
		if item, ok := tx.items[id]; ok {
			return item, true
		}
	}
	item, ok := s.items[id]
	return item, ok
}

func (s *Store) lookupOrder(tx *txState, id string) (domain.Order, bool) {
	if tx != nil {
		if order, ok := tx.orders[id]; ok {
			return cloneOrder(order), true
		}
	}
	order, ok := s.orders[id]
	return cloneOrder(order), ok
}

// allMembers собирает участников базы и overlay.
func (s *Store) allMembers(tx *txState) []domain.Member {
	merged := make(map[string]domain.Member, len(s.members))
	for id, member := range s.members {
		merged[id] = member
	}
	if tx != nil {
		for id, member := range tx.members {
			merged[id] = member
		}
	}

	result := make([]domain.Member, 0, len(merged))
	for _, member := range merged {
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *Store) allItems(tx *txState) []domain.Item {
	merged := make(map[string]domain.Item, len(s.items))
	for id, item := range s.items {
		merged[id] = item
	}
	if tx != nil {
		for id, item := range tx.items {
			merged[id] = item
		}
	}

	result := make([]domain.Item, 0, len(merged))
	for _, item := range merged {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// allOrders возвращает копии заказов, упорядоченные по дате и id.
func (s *Store) allOrders(tx *txState) []domain.Order {
	merged := make(map[string]domain.Order, len(s.orders))
	for id, order := range s.orders {
		merged[id] = order
	}
	if tx != nil {
		for id, order := range tx.orders {
			merged[id] = order
		}
	}

	result := make([]domain.Order, 0, len(merged))
	for _, order := range merged {
		result = append(result, cloneOrder(order))
	}
	sortOrders(result)
	return result
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].OrderDate.Equal(orders[j].OrderDate) {
			return orders[i].OrderDate.Before(orders[j].OrderDate)
		}
		return orders[i].ID < orders[j].ID
	})
}

// cloneOrder копирует позиции, чтобы вызывающий не мутировал сохранённое состояние.
func cloneOrder(order domain.Order) domain.Order {
	if order.Items != nil {
		items := make([]domain.OrderItem, len(order.Items))
		copy(items, order.Items)
		order.Items = items
	}
	return order
}

var _ domain.UnitOfWork = (*Store)(nil)
