package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type itemRepository struct {
	db dbtx
}

const selectItem = `
	SELECT id, name, price, stock_quantity, version, created_at, updated_at
	FROM items
`

func (r *itemRepository) FindByID(ctx context.Context, id string) (domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, selectItem+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

// FindByIDs загружает товары одним запросом. Порядок результата не гарантируется.
func (r *itemRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Item, error) {
	if len(ids) == 0 {
		return []domain.Item{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.list(ctx, selectItem+` WHERE id = ANY($1) ORDER BY created_at, id`, ids)
}

func (r *itemRepository) FindAll(ctx context.Context) ([]domain.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.list(ctx, selectItem+` ORDER BY created_at, id`)
}

// Save вставляет товар или обновляет его с проверкой версии (optimistic locking).
func (r *itemRepository) Save(ctx context.Context, item domain.Item) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if item.Version == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO items (id, name, price, stock_quantity, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,1,$5,$6)
		`,
			item.ID, item.Name, item.Price, item.StockQuantity, item.CreatedAt, item.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrVersionConflict
			}
			return fmt.Errorf("insert item: %w", err)
		}
		return nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET name = $1,
		    price = $2,
		    stock_quantity = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
	`,
		item.Name, item.Price, item.StockQuantity, item.UpdatedAt, item.ID, item.Version,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT id FROM items WHERE id = $1`, item.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrItemNotFound
		}
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *itemRepository) list(ctx context.Context, query string, args ...any) ([]domain.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}

func scanItem(row rowScanner) (domain.Item, error) {
	var item domain.Item
	if err := row.Scan(
		&item.ID, &item.Name, &item.Price, &item.StockQuantity,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.Item{}, err
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

var _ domain.ItemRepository = (*itemRepository)(nil)
