package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	db dbtx
}

const selectOrder = `
	SELECT o.id, o.member_id, o.status, o.order_date, o.version,
	       d.id, d.city, d.street, d.zipcode, d.status
	FROM orders o
	JOIN deliveries d ON d.id = o.delivery_id
`

// likeEscaper экранирует спецсимволы LIKE, чтобы фильтр работал как подстрока.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *orderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrder+` WHERE o.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	lines, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = lines[order.ID]

	return order, nil
}

// Save вставляет заказ вместе с доставкой и позициями или обновляет статусы с проверкой версии.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.Version == 0 {
		return r.insert(ctx, order)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    version = version + 1
		WHERE id = $2
		  AND version = $3
	`, string(order.Status), order.ID, order.Version)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := rowExists(ctx, r.db, `SELECT id FROM orders WHERE id = $1`, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrVersionConflict
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $1
		WHERE id = $2
	`, string(order.Delivery.Status), order.Delivery.ID); err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}

	return nil
}

// insert каскадно сохраняет доставку, заказ и позиции. Атомарность обеспечивает вызывающая транзакция.
func (r *orderRepository) insert(ctx context.Context, order domain.Order) error {
	delivery := order.Delivery
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, city, street, zipcode, status)
		VALUES ($1,$2,$3,$4,$5)
	`,
		delivery.ID, delivery.Address.City, delivery.Address.Street, delivery.Address.Zipcode,
		string(delivery.Status),
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert delivery: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, member_id, delivery_id, status, order_date, version)
		VALUES ($1,$2,$3,$4,$5,1)
	`,
		order.ID, order.MemberID, delivery.ID, string(order.Status), order.OrderDate,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Items {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, item_id, item_name, order_price, count, line_no)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			line.ID, order.ID, line.ItemID, line.ItemName, line.OrderPrice, line.Count, i,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

// FindOrders ищет заказы по статусу и подстроке username. Позиции догружаются одним запросом.
func (r *orderRepository) FindOrders(ctx context.Context, search domain.OrderSearch) ([]domain.OrderWithMember, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if search.Status != nil {
		args = append(args, string(*search.Status))
		conds = append(conds, fmt.Sprintf("o.status = $%d", len(args)))
	}
	if search.MemberName != "" {
		args = append(args, "%"+likeEscaper.Replace(search.MemberName)+"%")
		conds = append(conds, fmt.Sprintf("m.username LIKE $%d", len(args)))
	}

	query := `
		SELECT o.id, o.member_id, o.status, o.order_date, o.version,
		       d.id, d.city, d.street, d.zipcode, d.status,
		       m.id, m.username, m.city, m.street, m.zipcode, m.created_at
		FROM orders o
		JOIN deliveries d ON d.id = o.delivery_id
		JOIN members m ON m.id = o.member_id
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, domain.MaxSearchResults)
	query += fmt.Sprintf(" ORDER BY o.order_date, o.id LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OrderWithMember, 0)
	ids := make([]string, 0)
	for rows.Next() {
		var (
			row            domain.OrderWithMember
			status         string
			deliveryStatus string
		)
		if err := rows.Scan(
			&row.Order.ID, &row.Order.MemberID, &status, &row.Order.OrderDate, &row.Order.Version,
			&row.Order.Delivery.ID, &row.Order.Delivery.Address.City, &row.Order.Delivery.Address.Street,
			&row.Order.Delivery.Address.Zipcode, &deliveryStatus,
			&row.Member.ID, &row.Member.Username, &row.Member.Address.City, &row.Member.Address.Street,
			&row.Member.Address.Zipcode, &row.Member.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order search row: %w", err)
		}
		row.Order.Status = domain.OrderStatus(status)
		row.Order.Delivery.Status = domain.DeliveryStatus(deliveryStatus)
		row.Order.OrderDate = row.Order.OrderDate.UTC()
		row.Member.CreatedAt = row.Member.CreatedAt.UTC()
		result = append(result, row)
		ids = append(ids, row.Order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order search rows: %w", err)
	}

	lines, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Order.Items = lines[result[i].Order.ID]
	}

	return result, nil
}

func (r *orderRepository) FindByMember(ctx context.Context, memberID string) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectOrder+` WHERE o.member_id = $1 ORDER BY o.order_date, o.id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list member orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	ids := make([]string, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	lines, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = lines[orders[i].ID]
	}

	return orders, nil
}

// loadItems загружает позиции набора заказов одним запросом, сгруппированные по заказу.
func (r *orderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	result := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, item_id, item_name, order_price, count
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line    domain.OrderItem
			orderID string
		)
		if err := rows.Scan(&line.ID, &orderID, &line.ItemID, &line.ItemName, &line.OrderPrice, &line.Count); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[orderID] = append(result[orderID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return result, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order          domain.Order
		status         string
		deliveryStatus string
	)
	if err := row.Scan(
		&order.ID, &order.MemberID, &status, &order.OrderDate, &order.Version,
		&order.Delivery.ID, &order.Delivery.Address.City, &order.Delivery.Address.Street,
		&order.Delivery.Address.Zipcode, &deliveryStatus,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Delivery.Status = domain.DeliveryStatus(deliveryStatus)
	order.OrderDate = order.OrderDate.UTC()
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
