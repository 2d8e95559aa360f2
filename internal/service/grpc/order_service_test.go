package grpcsvc_test

import (
	"context"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/membership"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/projection"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

const bufSize = 1024 * 1024

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T) (*grpcsvc.OrderServiceClient, *memory.Store) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	store := memory.NewStore()
	logger := loggerForTests()
	m := metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())
	reads := domain.Repositories{
		Members: store.Members(),
		Items:   store.Items(),
		Orders:  store.Orders(),
		Outbox:  store.Outbox(),
	}

	service := grpcsvc.NewOrderService(
		ordering.NewService(store, reads, logger, ordering.WithMetrics(m)),
		projection.NewProjector(store.Queries(), logger, projection.WithMetrics(m)),
		membership.NewService(store, store.Members(), logger),
		catalog.NewService(store, store.Items(), logger),
		logger,
	)

	server := grpc.NewServer()
	grpcsvc.RegisterOrderServiceServer(server, service)

	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return grpcsvc.NewOrderServiceClient(conn), store
}

func call(t *testing.T, client *grpcsvc.OrderServiceClient, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	return client.Call(context.Background(), method, in)
}

func mustCall(t *testing.T, client *grpcsvc.OrderServiceClient, method string, req map[string]any) *structpb.Struct {
	t.Helper()
	resp, err := call(t, client, method, req)
	require.NoError(t, err)
	return resp
}

func requireCode(t *testing.T, err error, code codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, code, st.Code(), st.Message())
}

func joinAndStock(t *testing.T, client *grpcsvc.OrderServiceClient, username string, stock int) (memberID, itemID string) {
	t.Helper()
	member := mustCall(t, client, grpcsvc.MethodJoinMember, map[string]any{
		"username": username,
		"city":     "Seoul",
		"street":   "Gangnam-daero 1",
		"zipcode":  "06000",
	})
	item := mustCall(t, client, grpcsvc.MethodAddItem, map[string]any{
		"name":           "JPA1 BOOK",
		"price":          10000,
		"stock_quantity": stock,
	})
	return member.Fields["member_id"].GetStringValue(), item.Fields["item_id"].GetStringValue()
}

func TestPlaceAndCancelOrder(t *testing.T) {
	client, store := newTestServer(t)
	memberID, itemID := joinAndStock(t, client, "userA", 100)

	resp := mustCall(t, client, grpcsvc.MethodPlaceOrder, map[string]any{
		"member_id": memberID,
		"item_id":   itemID,
		"count":     1,
	})
	orderID := resp.Fields["order_id"].GetStringValue()
	require.NotEmpty(t, orderID)

	item, err := store.Items().FindByID(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, 99, item.StockQuantity)

	cancel := mustCall(t, client, grpcsvc.MethodCancelOrder, map[string]any{"order_id": orderID})
	require.Equal(t, "CANCEL", cancel.Fields["status"].GetStringValue())

	_, err = call(t, client, grpcsvc.MethodCancelOrder, map[string]any{"order_id": orderID})
	requireCode(t, err, codes.FailedPrecondition)

	item, err = store.Items().FindByID(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, 100, item.StockQuantity)
}

func TestPlaceOrderErrors(t *testing.T) {
	client, _ := newTestServer(t)
	memberID, itemID := joinAndStock(t, client, "userA", 10)

	tests := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{name: "insufficient stock", req: map[string]any{"member_id": memberID, "item_id": itemID, "count": 11}, code: codes.FailedPrecondition},
		{name: "unknown member", req: map[string]any{"member_id": "missing", "item_id": itemID, "count": 1}, code: codes.NotFound},
		{name: "unknown item", req: map[string]any{"member_id": memberID, "item_id": "missing", "count": 1}, code: codes.NotFound},
		{name: "zero count", req: map[string]any{"member_id": memberID, "item_id": itemID, "count": 0}, code: codes.InvalidArgument},
		{name: "no lines", req: map[string]any{"member_id": memberID}, code: codes.InvalidArgument},
		{name: "missing member id", req: map[string]any{"item_id": itemID, "count": 1}, code: codes.InvalidArgument},
		{name: "unknown field", req: map[string]any{"member_id": memberID, "item_id": itemID, "count": 1, "coupon": "x"}, code: codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, client, grpcsvc.MethodPlaceOrder, tt.req)
			requireCode(t, err, tt.code)
		})
	}
}

func TestPlaceOrderLinesAndProjections(t *testing.T) {
	client, store := newTestServer(t)
	memberID, itemID := joinAndStock(t, client, "userA", 100)
	other := mustCall(t, client, grpcsvc.MethodAddItem, map[string]any{
		"name":           "JPA2 BOOK",
		"price":          20000,
		"stock_quantity": 50,
	}).Fields["item_id"].GetStringValue()

	mustCall(t, client, grpcsvc.MethodPlaceOrder, map[string]any{
		"member_id": memberID,
		"lines": []any{
			map[string]any{"item_id": itemID, "count": 1},
			map[string]any{"item_id": other, "count": 2},
		},
	})

	store.ResetQueryCount()
	summaries := mustCall(t, client, grpcsvc.MethodListOrderSummaries, map[string]any{"offset": 0, "limit": 10})
	require.Equal(t, int64(2), store.QueryCount())
	orders := summaries.Fields["orders"].GetListValue().GetValues()
	require.Len(t, orders, 1)
	order := orders[0].GetStructValue()
	require.Equal(t, "userA", order.Fields["username"].GetStringValue())
	items := order.Fields["items"].GetListValue().GetValues()
	require.Len(t, items, 2)
	require.Equal(t, "JPA2 BOOK", items[1].GetStructValue().Fields["item_name"].GetStringValue())
	require.Equal(t, float64(2), items[1].GetStructValue().Fields["count"].GetNumberValue())

	simple := mustCall(t, client, grpcsvc.MethodListSimpleOrderSummaries, map[string]any{})
	require.Len(t, simple.Fields["orders"].GetListValue().GetValues(), 1)
	_, hasItems := simple.Fields["orders"].GetListValue().GetValues()[0].GetStructValue().Fields["items"]
	require.False(t, hasItems)

	flat := mustCall(t, client, grpcsvc.MethodListFlatOrders, map[string]any{})
	require.Len(t, flat.Fields["rows"].GetListValue().GetValues(), 2)

	grouped := mustCall(t, client, grpcsvc.MethodListFlatOrders, map[string]any{"grouped": true})
	require.Equal(t, summaries.Fields["orders"].AsInterface(), grouped.Fields["orders"].AsInterface())

	_, err := call(t, client, grpcsvc.MethodListFlatOrders, map[string]any{"limit": 10})
	requireCode(t, err, codes.InvalidArgument)
	_, err = call(t, client, grpcsvc.MethodListOrderSummaries, map[string]any{"offset": -1})
	requireCode(t, err, codes.InvalidArgument)
}

func TestSearchOrders(t *testing.T) {
	client, _ := newTestServer(t)
	memberA, itemID := joinAndStock(t, client, "userA", 100)
	memberB := mustCall(t, client, grpcsvc.MethodJoinMember, map[string]any{
		"username": "admin",
		"city":     "Busan",
		"street":   "Haeundae-ro 2",
		"zipcode":  "48000",
	}).Fields["member_id"].GetStringValue()

	first := mustCall(t, client, grpcsvc.MethodPlaceOrder, map[string]any{"member_id": memberA, "item_id": itemID, "count": 1})
	mustCall(t, client, grpcsvc.MethodPlaceOrder, map[string]any{"member_id": memberB, "item_id": itemID, "count": 1})
	mustCall(t, client, grpcsvc.MethodCancelOrder, map[string]any{"order_id": first.Fields["order_id"].GetStringValue()})

	canceled := mustCall(t, client, grpcsvc.MethodSearchOrders, map[string]any{"status": "CANCEL"})
	rows := canceled.Fields["orders"].GetListValue().GetValues()
	require.Len(t, rows, 1)
	require.Equal(t, "userA", rows[0].GetStructValue().Fields["username"].GetStringValue())
	require.Equal(t, float64(10000), rows[0].GetStructValue().Fields["total_price"].GetNumberValue())

	byName := mustCall(t, client, grpcsvc.MethodSearchOrders, map[string]any{"member_name": "adm"})
	require.Len(t, byName.Fields["orders"].GetListValue().GetValues(), 1)

	_, err := call(t, client, grpcsvc.MethodSearchOrders, map[string]any{"status": "LOST"})
	requireCode(t, err, codes.InvalidArgument)
}

func TestMembersAndItems(t *testing.T) {
	client, _ := newTestServer(t)
	joinAndStock(t, client, "userA", 5)

	_, err := call(t, client, grpcsvc.MethodJoinMember, map[string]any{
		"username": "userA",
		"city":     "Seoul",
		"street":   "Jong-ro 1",
		"zipcode":  "03154",
	})
	requireCode(t, err, codes.AlreadyExists)

	_, err = call(t, client, grpcsvc.MethodJoinMember, map[string]any{"username": "userB", "city": "Seoul"})
	requireCode(t, err, codes.InvalidArgument)

	_, err = call(t, client, grpcsvc.MethodAddItem, map[string]any{"name": "pen", "price": -1, "stock_quantity": 1})
	requireCode(t, err, codes.InvalidArgument)

	members := mustCall(t, client, grpcsvc.MethodListMembers, map[string]any{})
	require.Len(t, members.Fields["members"].GetListValue().GetValues(), 1)
	address := members.Fields["members"].GetListValue().GetValues()[0].GetStructValue().Fields["address"].GetStructValue()
	require.Equal(t, "Seoul", address.Fields["city"].GetStringValue())

	items := mustCall(t, client, grpcsvc.MethodListItems, map[string]any{})
	list := items.Fields["items"].GetListValue().GetValues()
	require.Len(t, list, 1)
	require.Equal(t, float64(5), list[0].GetStructValue().Fields["stock_quantity"].GetNumberValue())
}

func TestUpdateItem(t *testing.T) {
	client, store := newTestServer(t)
	_, itemID := joinAndStock(t, client, "userA", 10)

	resp := mustCall(t, client, grpcsvc.MethodUpdateItem, map[string]any{
		"item_id":        itemID,
		"name":           " JPA2 BOOK ",
		"price":          20000,
		"stock_quantity": 5,
	})
	require.Equal(t, itemID, resp.Fields["item_id"].GetStringValue())

	item, err := store.Items().FindByID(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, "JPA2 BOOK", item.Name)
	require.Equal(t, int64(20000), item.Price)
	require.Equal(t, 5, item.StockQuantity)

	items := mustCall(t, client, grpcsvc.MethodListItems, map[string]any{})
	listed := items.Fields["items"].GetListValue().GetValues()[0].GetStructValue()
	require.Equal(t, "JPA2 BOOK", listed.Fields["name"].GetStringValue())

	tests := []struct {
		name string
		req  map[string]any
		code codes.Code
	}{
		{name: "unknown item", req: map[string]any{"item_id": "missing", "name": "pen", "price": 100, "stock_quantity": 1}, code: codes.NotFound},
		{name: "negative stock", req: map[string]any{"item_id": itemID, "name": "pen", "price": 100, "stock_quantity": -1}, code: codes.InvalidArgument},
		{name: "unknown field", req: map[string]any{"item_id": itemID, "name": "pen", "price": 100, "stock_quantity": 1, "isbn": "x"}, code: codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, client, grpcsvc.MethodUpdateItem, tt.req)
			requireCode(t, err, tt.code)
		})
	}

	item, err = store.Items().FindByID(context.Background(), itemID)
	require.NoError(t, err)
	require.Equal(t, 5, item.StockQuantity)
}

func TestUnknownMethod(t *testing.T) {
	client, _ := newTestServer(t)
	_, err := call(t, client, "Refund", map[string]any{})
	requireCode(t, err, codes.Unimplemented)
}
