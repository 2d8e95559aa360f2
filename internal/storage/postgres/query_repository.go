package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// queryRepository выполняет read-side запросы проекций. Каждый метод — ровно один SQL-запрос.
type queryRepository struct {
	db dbtx
}

func (r *queryRepository) FindOrderSummaries(ctx context.Context, page domain.Page) ([]domain.OrderSummaryRow, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает выборку без ограничения.
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, m.username, o.order_date, o.status, d.city, d.street, d.zipcode
		FROM orders o
		JOIN members m ON m.id = o.member_id
		JOIN deliveries d ON d.id = o.delivery_id
		ORDER BY o.order_date, o.id
		OFFSET $1
		LIMIT NULLIF($2::INTEGER, 0)
	`, page.Offset, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("query order summaries: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderSummaryRow, 0)
	for rows.Next() {
		row, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order summary: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order summaries: %w", err)
	}
	return result, nil
}

func (r *queryRepository) FindOrderItemRows(ctx context.Context, orderIDs []string) ([]domain.OrderItemRow, error) {
	if len(orderIDs) == 0 {
		return []domain.OrderItemRow{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT oi.order_id, i.name, oi.order_price, oi.count
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN items i ON i.id = oi.item_id
		WHERE oi.order_id = ANY($1)
		ORDER BY o.order_date, o.id, oi.line_no
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order item rows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderItemRow, 0)
	for rows.Next() {
		var row domain.OrderItemRow
		if err := rows.Scan(&row.OrderID, &row.ItemName, &row.OrderPrice, &row.Count); err != nil {
			return nil, fmt.Errorf("scan order item row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order item rows: %w", err)
	}
	return result, nil
}

func (r *queryRepository) FindOrderFlatRows(ctx context.Context) ([]domain.OrderFlatRow, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, m.username, o.order_date, o.status, d.city, d.street, d.zipcode,
		       i.name, oi.order_price, oi.count
		FROM orders o
		JOIN members m ON m.id = o.member_id
		JOIN deliveries d ON d.id = o.delivery_id
		JOIN order_items oi ON oi.order_id = o.id
		JOIN items i ON i.id = oi.item_id
		ORDER BY o.order_date, o.id, oi.line_no
	`)
	if err != nil {
		return nil, fmt.Errorf("query order flat rows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderFlatRow, 0)
	for rows.Next() {
		var (
			row    domain.OrderFlatRow
			status string
		)
		if err := rows.Scan(
			&row.OrderID, &row.Username, &row.OrderDate, &status,
			&row.Address.City, &row.Address.Street, &row.Address.Zipcode,
			&row.ItemName, &row.OrderPrice, &row.Count,
		); err != nil {
			return nil, fmt.Errorf("scan order flat row: %w", err)
		}
		row.Status = domain.OrderStatus(status)
		row.OrderDate = row.OrderDate.UTC()
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order flat rows: %w", err)
	}
	return result, nil
}

func scanSummary(row rowScanner) (domain.OrderSummaryRow, error) {
	var (
		summary domain.OrderSummaryRow
		status  string
	)
	if err := row.Scan(
		&summary.OrderID, &summary.Username, &summary.OrderDate, &status,
		&summary.Address.City, &summary.Address.Street, &summary.Address.Zipcode,
	); err != nil {
		return domain.OrderSummaryRow{}, err
	}
	summary.Status = domain.OrderStatus(status)
	summary.OrderDate = summary.OrderDate.UTC()
	return summary, nil
}

var _ domain.OrderQueryRepository = (*queryRepository)(nil)
