package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var total float64
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil {
			t.Fatalf("failed to write metric: %v", err)
		}
		total += m.GetCounter().GetValue()
	}
	return total
}

func TestNewOrderMetrics(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("NewOrderMetricsWithRegisterer should not return nil")
	}
	if metrics.ordersPlaced == nil || metrics.ordersCanceled == nil {
		t.Error("order counters should not be nil")
	}
	if metrics.failures == nil {
		t.Error("failures counter vec should not be nil")
	}
	if metrics.operationDuration == nil {
		t.Error("operationDuration histogram vec should not be nil")
	}
	if metrics.projectionQueries == nil {
		t.Error("projectionQueries counter vec should not be nil")
	}
}

func TestNewOrderMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewOrderMetricsWithRegisterer(reg)
	second := NewOrderMetricsWithRegisterer(reg)

	first.RecordOrderPlaced(1)
	if got := counterValue(t, second.ordersPlaced); got != 1 {
		t.Fatalf("expected shared counter value 1, got %v", got)
	}
}

func TestRecordOrderLifecycle(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordOrderPlaced(3)
	metrics.RecordOrderPlaced(2)
	metrics.RecordOrderCanceled(3)

	if got := counterValue(t, metrics.ordersPlaced); got != 2 {
		t.Errorf("expected 2 placed orders, got %v", got)
	}
	if got := counterValue(t, metrics.stockReserved); got != 5 {
		t.Errorf("expected 5 removed units, got %v", got)
	}
	if got := counterValue(t, metrics.ordersCanceled); got != 1 {
		t.Errorf("expected 1 canceled order, got %v", got)
	}
	if got := counterValue(t, metrics.stockRestored); got != 3 {
		t.Errorf("expected 3 restored units, got %v", got)
	}
}

func TestRecordFailureAndQueries(t *testing.T) {
	metrics := NewOrderMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordFailure(OperationPlaceOrder, "insufficient_stock")
	metrics.RecordFailure(OperationPlaceOrder, "insufficient_stock")
	metrics.RecordFailure(OperationCancelOrder, "not_cancelable")
	metrics.RecordProjectionQueries("batch", 2)
	metrics.RecordProjectionQueries("flat", 1)
	metrics.RecordOutboxEvent()

	if got := counterValue(t, metrics.failures.WithLabelValues(OperationPlaceOrder, "insufficient_stock")); got != 2 {
		t.Errorf("expected 2 place failures, got %v", got)
	}
	if got := counterValue(t, metrics.failures); got != 3 {
		t.Errorf("expected 3 failures total, got %v", got)
	}
	if got := counterValue(t, metrics.projectionQueries.WithLabelValues("batch")); got != 2 {
		t.Errorf("expected 2 batch queries, got %v", got)
	}
	if got := counterValue(t, metrics.outboxEvents); got != 1 {
		t.Errorf("expected 1 outbox event, got %v", got)
	}
}

func TestRecordDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	metrics.RecordDuration(OperationPlaceOrder, 20*time.Millisecond)
	metrics.RecordDuration(OperationPlaceOrder, 40*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, family := range families {
		if family.GetName() != "shop_order_operation_duration_seconds" {
			continue
		}
		if len(family.GetMetric()) != 1 {
			t.Fatalf("expected one labeled series, got %d", len(family.GetMetric()))
		}
		if got := family.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
			t.Fatalf("expected 2 samples, got %d", got)
		}
		return
	}
	t.Fatal("duration histogram not found")
}
