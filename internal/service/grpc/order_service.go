package grpcsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/membership"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/projection"
)

// OrderService реализует gRPC API магазина поверх сервисов приложения.
type OrderService struct {
	orders    *ordering.Service
	projector *projection.Projector
	members   *membership.Service
	catalog   *catalog.Service
	logger    *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(
	orders *ordering.Service,
	projector *projection.Projector,
	members *membership.Service,
	catalog *catalog.Service,
	logger *log.Entry,
) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &OrderService{
		orders:    orders,
		projector: projector,
		members:   members,
		catalog:   catalog,
		logger:    logger,
	}
}

type orderLineRequest struct {
	ItemID string `json:"item_id"`
	Count  int    `json:"count"`
}

type placeOrderRequest struct {
	MemberID string             `json:"member_id"`
	ItemID   string             `json:"item_id"`
	Count    int                `json:"count"`
	Lines    []orderLineRequest `json:"lines"`
}

// PlaceOrder оформляет заказ: либо одна позиция (item_id, count), либо список lines.
func (s *OrderService) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in placeOrderRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.MemberID == "" {
		return nil, status.Error(codes.InvalidArgument, "member_id is required")
	}

	lines := make([]ordering.OrderLine, 0, len(in.Lines)+1)
	if in.ItemID != "" {
		lines = append(lines, ordering.OrderLine{ItemID: in.ItemID, Count: in.Count})
	}
	for idx, line := range in.Lines {
		if line.ItemID == "" {
			return nil, status.Errorf(codes.InvalidArgument, "lines[%d].item_id is required", idx)
		}
		lines = append(lines, ordering.OrderLine{ItemID: line.ItemID, Count: line.Count})
	}

	orderID, err := s.orders.PlaceOrderLines(ctx, in.MemberID, lines)
	if err != nil {
		return nil, s.toStatus(err, MethodPlaceOrder)
	}
	return encodeResponse(map[string]any{"order_id": orderID})
}

type orderIDRequest struct {
	OrderID string `json:"order_id"`
}

// CancelOrder отменяет заказ и возвращает остатки.
func (s *OrderService) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in orderIDRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if in.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	if err := s.orders.CancelOrder(ctx, in.OrderID); err != nil {
		return nil, s.toStatus(err, MethodCancelOrder)
	}
	return encodeResponse(map[string]any{
		"order_id": in.OrderID,
		"status":   domain.OrderStatusCancel,
	})
}

type searchOrdersRequest struct {
	Status     string `json:"status"`
	MemberName string `json:"member_name"`
}

type orderItemResponse struct {
	ItemID     string `json:"item_id"`
	ItemName   string `json:"item_name"`
	OrderPrice int64  `json:"order_price"`
	Count      int    `json:"count"`
}

type orderResponse struct {
	OrderID        string                `json:"order_id"`
	MemberID       string                `json:"member_id"`
	Username       string                `json:"username"`
	Status         domain.OrderStatus    `json:"status"`
	DeliveryStatus domain.DeliveryStatus `json:"delivery_status"`
	Address        domain.Address        `json:"address"`
	OrderDate      time.Time             `json:"order_date"`
	TotalPrice     int64                 `json:"total_price"`
	Items          []orderItemResponse   `json:"items"`
}

// SearchOrders ищет заказы по статусу и подстроке имени участника.
func (s *OrderService) SearchOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in searchOrdersRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}

	search := domain.OrderSearch{MemberName: in.MemberName}
	if in.Status != "" {
		st := domain.OrderStatus(in.Status)
		search.Status = &st
	}

	rows, err := s.orders.SearchOrders(ctx, search)
	if err != nil {
		return nil, s.toStatus(err, MethodSearchOrders)
	}

	orders := make([]orderResponse, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, toOrderResponse(row))
	}
	return encodeResponse(map[string]any{"orders": orders})
}

type pageRequest struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Grouped bool `json:"grouped"`
}

// ListOrderSummaries возвращает страницу заказов с позициями за два запроса к хранилищу.
func (s *OrderService) ListOrderSummaries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in pageRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	orders, err := s.projector.OrderSummaries(ctx, in.Offset, in.Limit)
	if err != nil {
		return nil, s.toStatus(err, MethodListOrderSummaries)
	}
	return encodeResponse(map[string]any{"orders": orders})
}

// ListSimpleOrderSummaries возвращает страницу заказов без позиций.
func (s *OrderService) ListSimpleOrderSummaries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in pageRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	orders, err := s.projector.SimpleOrderSummaries(ctx, in.Offset, in.Limit)
	if err != nil {
		return nil, s.toStatus(err, MethodListSimpleOrderSummaries)
	}
	return encodeResponse(map[string]any{"orders": orders})
}

// ListFlatOrders возвращает плоские строки или, при grouped, сгруппированные заказы.
// Пагинация не поддерживается.
func (s *OrderService) ListFlatOrders(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in pageRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	page := domain.Page{Offset: in.Offset, Limit: in.Limit}

	if in.Grouped {
		orders, err := s.projector.FlatOrderSummaries(ctx, page)
		if err != nil {
			return nil, s.toStatus(err, MethodListFlatOrders)
		}
		return encodeResponse(map[string]any{"orders": orders})
	}

	if !page.IsZero() {
		return nil, s.toStatus(domain.ErrPaginationUnsupported, MethodListFlatOrders)
	}
	rows, err := s.projector.FlatOrderRows(ctx)
	if err != nil {
		return nil, s.toStatus(err, MethodListFlatOrders)
	}
	return encodeResponse(map[string]any{"rows": rows})
}

type joinMemberRequest struct {
	Username string `json:"username"`
	City     string `json:"city"`
	Street   string `json:"street"`
	Zipcode  string `json:"zipcode"`
}

type memberResponse struct {
	MemberID string         `json:"member_id"`
	Username string         `json:"username"`
	Address  domain.Address `json:"address"`
}

// JoinMember регистрирует участника.
func (s *OrderService) JoinMember(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in joinMemberRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	addr, err := domain.NewAddress(in.City, in.Street, in.Zipcode)
	if err != nil {
		return nil, s.toStatus(err, MethodJoinMember)
	}
	memberID, err := s.members.Join(ctx, in.Username, addr)
	if err != nil {
		return nil, s.toStatus(err, MethodJoinMember)
	}
	return encodeResponse(map[string]any{"member_id": memberID})
}

// ListMembers возвращает всех участников.
func (s *OrderService) ListMembers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := decodeRequest(req, &struct{}{}); err != nil {
		return nil, err
	}
	members, err := s.members.Members(ctx)
	if err != nil {
		return nil, s.toStatus(err, MethodListMembers)
	}
	result := make([]memberResponse, 0, len(members))
	for _, member := range members {
		result = append(result, memberResponse{
			MemberID: member.ID,
			Username: member.Username,
			Address:  member.Address,
		})
	}
	return encodeResponse(map[string]any{"members": result})
}

type addItemRequest struct {
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

type itemResponse struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

// AddItem добавляет товар в каталог.
func (s *OrderService) AddItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in addItemRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	itemID, err := s.catalog.AddItem(ctx, in.Name, in.Price, in.StockQuantity)
	if err != nil {
		return nil, s.toStatus(err, MethodAddItem)
	}
	return encodeResponse(map[string]any{"item_id": itemID})
}

type updateItemRequest struct {
	ItemID        string `json:"item_id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
}

// UpdateItem заменяет название, цену и остаток товара.
// Параллельное изменение того же товара возвращает Aborted.
func (s *OrderService) UpdateItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in updateItemRequest
	if err := decodeRequest(req, &in); err != nil {
		return nil, err
	}
	if err := s.catalog.UpdateItem(ctx, in.ItemID, in.Name, in.Price, in.StockQuantity); err != nil {
		return nil, s.toStatus(err, MethodUpdateItem)
	}
	return encodeResponse(map[string]any{"item_id": in.ItemID})
}

// ListItems возвращает каталог с текущими остатками.
func (s *OrderService) ListItems(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := decodeRequest(req, &struct{}{}); err != nil {
		return nil, err
	}
	items, err := s.catalog.Items(ctx)
	if err != nil {
		return nil, s.toStatus(err, MethodListItems)
	}
	result := make([]itemResponse, 0, len(items))
	for _, item := range items {
		result = append(result, itemResponse{
			ItemID:        item.ID,
			Name:          item.Name,
			Price:         item.Price,
			StockQuantity: item.StockQuantity,
		})
	}
	return encodeResponse(map[string]any{"items": result})
}

// toStatus переводит доменную ошибку в gRPC status.
func (s *OrderService) toStatus(err error, method string) error {
	code := codeOf(err)
	entry := s.logger.WithError(err).WithField("method", method)
	if code == codes.Internal {
		entry.Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
	entry.WithField("code", code.String()).Debug("request rejected")
	return status.Error(code, err.Error())
}

func codeOf(err error) codes.Code {
	switch {
	case domain.IsNotFound(err):
		return codes.NotFound
	case domain.IsInvalidArgument(err), errors.Is(err, domain.ErrPaginationUnsupported):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderNotCancelable),
		errors.Is(err, domain.ErrOrderAlreadyCanceled),
		errors.Is(err, domain.ErrInvalidDeliveryTransition):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrDuplicateMember):
		return codes.AlreadyExists
	case domain.IsVersionConflict(err):
		return codes.Aborted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// decodeRequest переносит Struct в типизированный запрос. Неизвестные поля отклоняются.
func decodeRequest(req *structpb.Struct, dst any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, "malformed request")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

func toOrderResponse(row domain.OrderWithMember) orderResponse {
	items := make([]orderItemResponse, 0, len(row.Order.Items))
	for _, line := range row.Order.Items {
		items = append(items, orderItemResponse{
			ItemID:     line.ItemID,
			ItemName:   line.ItemName,
			OrderPrice: line.OrderPrice,
			Count:      line.Count,
		})
	}
	return orderResponse{
		OrderID:        row.Order.ID,
		MemberID:       row.Member.ID,
		Username:       row.Member.Username,
		Status:         row.Order.Status,
		DeliveryStatus: row.Order.Delivery.Status,
		Address:        row.Order.Delivery.Address,
		OrderDate:      row.Order.OrderDate,
		TotalPrice:     row.Order.TotalPrice(),
		Items:          items,
	}
}

var _ OrderServiceServer = (*OrderService)(nil)
