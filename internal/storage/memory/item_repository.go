package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type itemRepository struct {
	store *Store
	tx    *txState
}

func (r *itemRepository) FindByID(ctx context.Context, id string) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	item, ok := r.store.lookupItem(r.tx, id)
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

// FindByIDs возвращает найденные товары в порядке ids, дубликаты схлопываются.
func (r *itemRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Item, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if item, ok := r.store.lookupItem(r.tx, id); ok {
			result = append(result, item)
		}
	}
	return result, nil
}

func (r *itemRepository) FindAll(ctx context.Context) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.store.allItems(r.tx), nil
}

// Save вставляет товар (Version == 0) или обновляет его с проверкой версии.
func (r *itemRepository) Save(ctx context.Context, item domain.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx == nil {
		r.store.writeMu.Lock()
		defer r.store.writeMu.Unlock()
	}

	r.store.mu.RLock()
	current, exists := r.store.lookupItem(r.tx, item.ID)
	r.store.mu.RUnlock()

	switch {
	case item.Version == 0 && exists:
		return domain.ErrVersionConflict
	case item.Version != 0 && !exists:
		return domain.ErrItemNotFound
	case exists && current.Version != item.Version:
		return domain.ErrVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	item.Version++

	if r.tx != nil {
		r.tx.items[item.ID] = item
		return nil
	}

	r.store.mu.Lock()
	r.store.items[item.ID] = item
	r.store.mu.Unlock()
	return nil
}

var _ domain.ItemRepository = (*itemRepository)(nil)
