package projection

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// DefaultLimit применяется, когда limit не задан.
const DefaultLimit = 100

// Режимы выборки для метрик.
const (
	ModeBatch  = "batch"
	ModeSimple = "simple"
	ModeFlat   = "flat"
)

// OrderItemDTO — позиция заказа в проекции.
type OrderItemDTO struct {
	ItemName   string `json:"item_name"`
	OrderPrice int64  `json:"order_price"`
	Count      int    `json:"count"`
}

// OrderSummaryDTO — заказ с участником, адресом доставки и позициями.
type OrderSummaryDTO struct {
	OrderID   string             `json:"order_id"`
	Username  string             `json:"username"`
	OrderDate time.Time          `json:"order_date"`
	Status    domain.OrderStatus `json:"status"`
	Address   domain.Address     `json:"address"`
	Items     []OrderItemDTO     `json:"items"`
}

// SimpleOrderDTO — заказ без позиций.
type SimpleOrderDTO struct {
	OrderID   string             `json:"order_id"`
	Username  string             `json:"username"`
	OrderDate time.Time          `json:"order_date"`
	Status    domain.OrderStatus `json:"status"`
	Address   domain.Address     `json:"address"`
}

// OrderFlatDTO — одна строка на пару (заказ, позиция).
type OrderFlatDTO struct {
	OrderID    string             `json:"order_id"`
	Username   string             `json:"username"`
	OrderDate  time.Time          `json:"order_date"`
	Status     domain.OrderStatus `json:"status"`
	Address    domain.Address     `json:"address"`
	ItemName   string             `json:"item_name"`
	OrderPrice int64              `json:"order_price"`
	Count      int                `json:"count"`
}

// Projector строит представления заказов за ограниченное число запросов,
// независимо от количества заказов и позиций.
type Projector struct {
	queries domain.OrderQueryRepository
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// Option настраивает Projector.
type Option func(*Projector)

// WithMetrics включает учёт запросов проекций.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(p *Projector) {
		p.metrics = m
	}
}

// NewProjector создаёт проектор поверх read-side репозитория.
func NewProjector(queries domain.OrderQueryRepository, logger *log.Entry, opts ...Option) *Projector {
	if logger == nil {
		logger = log.New().WithField("component", "projection")
	}
	p := &Projector{queries: queries, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// OrderSummaries возвращает страницу заказов с позициями.
// Первый запрос выбирает заказы, второй одним IN подгружает позиции всех заказов страницы.
func (p *Projector) OrderSummaries(ctx context.Context, offset, limit int) ([]OrderSummaryDTO, error) {
	page, err := normalizePage(offset, limit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	queries := 0
	defer func() { p.observe(ModeBatch, queries, start) }()

	rows, err := p.queries.FindOrderSummaries(ctx, page)
	queries++
	if err != nil {
		return nil, fmt.Errorf("load order summaries: %w", err)
	}
	if len(rows) == 0 {
		return []OrderSummaryDTO{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OrderID)
	}
	itemRows, err := p.queries.FindOrderItemRows(ctx, ids)
	queries++
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}

	byOrder := make(map[string][]OrderItemDTO, len(rows))
	for _, row := range itemRows {
		byOrder[row.OrderID] = append(byOrder[row.OrderID], OrderItemDTO{
			ItemName:   row.ItemName,
			OrderPrice: row.OrderPrice,
			Count:      row.Count,
		})
	}

	result := make([]OrderSummaryDTO, 0, len(rows))
	for _, row := range rows {
		dto := summaryDTO(row)
		if items, ok := byOrder[row.OrderID]; ok {
			dto.Items = items
		}
		result = append(result, dto)
	}
	return result, nil
}

// SimpleOrderSummaries возвращает страницу заказов без позиций одним запросом.
func (p *Projector) SimpleOrderSummaries(ctx context.Context, offset, limit int) ([]SimpleOrderDTO, error) {
	page, err := normalizePage(offset, limit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := p.queries.FindOrderSummaries(ctx, page)
	p.observe(ModeSimple, 1, start)
	if err != nil {
		return nil, fmt.Errorf("load order summaries: %w", err)
	}

	result := make([]SimpleOrderDTO, 0, len(rows))
	for _, row := range rows {
		result = append(result, SimpleOrderDTO{
			OrderID:   row.OrderID,
			Username:  row.Username,
			OrderDate: row.OrderDate,
			Status:    row.Status,
			Address:   row.Address,
		})
	}
	return result, nil
}

// FlatOrderRows возвращает все пары (заказ, позиция) одним запросом. Пагинации нет:
// offset/limit поверх join'а 1:N резали бы заказы посередине.
func (p *Projector) FlatOrderRows(ctx context.Context) ([]OrderFlatDTO, error) {
	start := time.Now()
	rows, err := p.queries.FindOrderFlatRows(ctx)
	p.observe(ModeFlat, 1, start)
	if err != nil {
		return nil, fmt.Errorf("load flat order rows: %w", err)
	}

	result := make([]OrderFlatDTO, 0, len(rows))
	for _, row := range rows {
		result = append(result, OrderFlatDTO{
			OrderID:    row.OrderID,
			Username:   row.Username,
			OrderDate:  row.OrderDate,
			Status:     row.Status,
			Address:    row.Address,
			ItemName:   row.ItemName,
			OrderPrice: row.OrderPrice,
			Count:      row.Count,
		})
	}
	return result, nil
}

// FlatOrderSummaries выбирает плоские строки и группирует их по заказу.
// Заданная страница отклоняется с ErrPaginationUnsupported.
func (p *Projector) FlatOrderSummaries(ctx context.Context, page domain.Page) ([]OrderSummaryDTO, error) {
	if !page.IsZero() {
		return nil, domain.ErrPaginationUnsupported
	}
	rows, err := p.FlatOrderRows(ctx)
	if err != nil {
		return nil, err
	}
	return GroupFlatRows(rows), nil
}

// GroupFlatRows сворачивает плоские строки в заказы в порядке первого появления.
func GroupFlatRows(rows []OrderFlatDTO) []OrderSummaryDTO {
	result := make([]OrderSummaryDTO, 0)
	index := make(map[string]int)
	for _, row := range rows {
		i, ok := index[row.OrderID]
		if !ok {
			i = len(result)
			index[row.OrderID] = i
			result = append(result, OrderSummaryDTO{
				OrderID:   row.OrderID,
				Username:  row.Username,
				OrderDate: row.OrderDate,
				Status:    row.Status,
				Address:   row.Address,
				Items:     []OrderItemDTO{},
			})
		}
		result[i].Items = append(result[i].Items, OrderItemDTO{
			ItemName:   row.ItemName,
			OrderPrice: row.OrderPrice,
			Count:      row.Count,
		})
	}
	return result
}

func summaryDTO(row domain.OrderSummaryRow) OrderSummaryDTO {
	return OrderSummaryDTO{
		OrderID:   row.OrderID,
		Username:  row.Username,
		OrderDate: row.OrderDate,
		Status:    row.Status,
		Address:   row.Address,
		Items:     []OrderItemDTO{},
	}
}

func normalizePage(offset, limit int) (domain.Page, error) {
	page := domain.Page{Offset: offset, Limit: limit}
	if err := page.Validate(); err != nil {
		return domain.Page{}, err
	}
	if page.Limit == 0 {
		page.Limit = DefaultLimit
	}
	return page, nil
}

func (p *Projector) observe(mode string, queries int, start time.Time) {
	p.logger.WithFields(log.Fields{
		"mode":    mode,
		"queries": queries,
	}).Debug("projection executed")
	if p.metrics != nil {
		p.metrics.RecordProjectionQueries(mode, queries)
		p.metrics.RecordDuration(metrics.OperationProjection, time.Since(start))
	}
}
