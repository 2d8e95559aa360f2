package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Операции, для которых собираются метрики.
const (
	OperationPlaceOrder     = "place_order"
	OperationCancelOrder    = "cancel_order"
	OperationSearchOrders   = "search_orders"
	OperationUpdateDelivery = "update_delivery"
	OperationProjection     = "projection"
)

// OrderMetrics содержит метрики заказов и проекций.
type OrderMetrics struct {
	// Счётчики жизненного цикла заказа
	ordersPlaced   prometheus.Counter
	ordersCanceled prometheus.Counter
	failures       *prometheus.CounterVec

	// Складские движения в штуках
	stockReserved prometheus.Counter
	stockRestored prometheus.Counter

	operationDuration *prometheus.HistogramVec

	// Запросы read-side по режимам проекции
	projectionQueries *prometheus.CounterVec
	outboxEvents      prometheus.Counter
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в заданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_placed_total",
			Help: "Total number of orders placed",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_canceled_total",
			Help: "Total number of orders canceled",
		}),
		failures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_failures_total",
			Help: "Total number of failed order operations by reason",
		}, []string{"operation", "reason"}),
		stockReserved: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_removed_units_total",
			Help: "Total number of stock units removed by placed orders",
		}),
		stockRestored: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_restored_units_total",
			Help: "Total number of stock units restored by canceled orders",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		projectionQueries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_projection_queries_total",
			Help: "Total number of read-side queries issued by order projections",
		}, []string{"mode"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_enqueued_total",
			Help: "Total number of outbox events enqueued by order operations",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced учитывает оформленный заказ и списанные единицы.
func (m *OrderMetrics) RecordOrderPlaced(units int) {
	m.ordersPlaced.Inc()
	m.stockReserved.Add(float64(units))
}

// RecordOrderCanceled учитывает отмену и возвращённые единицы.
func (m *OrderMetrics) RecordOrderCanceled(units int) {
	m.ordersCanceled.Inc()
	m.stockRestored.Add(float64(units))
}

// RecordFailure учитывает неудачную операцию.
func (m *OrderMetrics) RecordFailure(operation, reason string) {
	m.failures.WithLabelValues(operation, reason).Inc()
}

// RecordDuration записывает время выполнения операции.
func (m *OrderMetrics) RecordDuration(operation string, duration time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordProjectionQueries учитывает запросы, выполненные проекцией в заданном режиме.
func (m *OrderMetrics) RecordProjectionQueries(mode string, queries int) {
	m.projectionQueries.WithLabelValues(mode).Add(float64(queries))
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
