package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item — товар каталога с изменяемым остатком.
//
// Остаток меняется только через RemoveStock/AddStock, которые вызывает агрегат заказа.
type Item struct {
	ID   string
	Name string
	// Price — цена за единицу в минимальных денежных единицах.
	Price         int64
	StockQuantity int
	// Version используется для optimistic locking в хранилище.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem создаёт товар с новым идентификатором.
func NewItem(name string, price int64, stock int) (*Item, error) {
	now := time.Now().UTC()
	item := &Item{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(name),
		Price:         price,
		StockQuantity: stock,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := item.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	return item, nil
}

// Validate проверяет инварианты товара.
func (i *Item) Validate() []error {
	var errs []error

	if i.Name == "" {
		errs = append(errs, ErrItemNameRequired)
	}
	if i.Price < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if i.StockQuantity < 0 {
		errs = append(errs, ErrQuantityNegative)
	}

	return errs
}

// RemoveStock уменьшает остаток. При нехватке остаток не меняется.
func (i *Item) RemoveStock(quantity int) error {
	if quantity < 0 {
		return ErrQuantityNegative
	}
	if quantity > i.StockQuantity {
		return ErrInsufficientStock
	}
	i.StockQuantity -= quantity
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// AddStock увеличивает остаток.
func (i *Item) AddStock(quantity int) error {
	if quantity < 0 {
		return ErrQuantityNegative
	}
	i.StockQuantity += quantity
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// StockLedger — узкий интерфейс, через который агрегат заказа находит товары для изменения остатка.
type StockLedger interface {
	Item(id string) (*Item, bool)
}

// ItemSet — StockLedger поверх набора загруженных товаров.
type ItemSet map[string]*Item

// NewItemSet индексирует товары по идентификатору.
func NewItemSet(items ...*Item) ItemSet {
	set := make(ItemSet, len(items))
	for _, item := range items {
		if item != nil {
			set[item.ID] = item
		}
	}
	return set
}

// Item возвращает товар по идентификатору.
func (s ItemSet) Item(id string) (*Item, bool) {
	item, ok := s[id]
	return item, ok
}

// Items возвращает товары набора, упорядоченные по идентификатору.
// Стабильный порядок нужен, чтобы параллельные транзакции блокировали строки одинаково.
func (s ItemSet) Items() []*Item {
	result := make([]*Item, 0, len(s))
	for _, item := range s {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

var _ StockLedger = ItemSet(nil)
