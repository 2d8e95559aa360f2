package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "shop.v1.OrderService"

// Имена методов сервиса.
const (
	MethodPlaceOrder               = "PlaceOrder"
	MethodCancelOrder              = "CancelOrder"
	MethodSearchOrders             = "SearchOrders"
	MethodListOrderSummaries       = "ListOrderSummaries"
	MethodListSimpleOrderSummaries = "ListSimpleOrderSummaries"
	MethodListFlatOrders           = "ListFlatOrders"
	MethodJoinMember               = "JoinMember"
	MethodListMembers              = "ListMembers"
	MethodAddItem                  = "AddItem"
	MethodUpdateItem               = "UpdateItem"
	MethodListItems                = "ListItems"
)

// OrderServiceServer — серверная сторона shop.v1.OrderService.
// Запросы и ответы передаются как google.protobuf.Struct.
type OrderServiceServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrderSummaries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSimpleOrderSummaries(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFlatOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinMember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMembers(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateItem(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OrderServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// OrderServiceDesc описывает сервис для grpc.Server.RegisterService.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodPlaceOrder, OrderServiceServer.PlaceOrder),
		unaryMethod(MethodCancelOrder, OrderServiceServer.CancelOrder),
		unaryMethod(MethodSearchOrders, OrderServiceServer.SearchOrders),
		unaryMethod(MethodListOrderSummaries, OrderServiceServer.ListOrderSummaries),
		unaryMethod(MethodListSimpleOrderSummaries, OrderServiceServer.ListSimpleOrderSummaries),
		unaryMethod(MethodListFlatOrders, OrderServiceServer.ListFlatOrders),
		unaryMethod(MethodJoinMember, OrderServiceServer.JoinMember),
		unaryMethod(MethodListMembers, OrderServiceServer.ListMembers),
		unaryMethod(MethodAddItem, OrderServiceServer.AddItem),
		unaryMethod(MethodUpdateItem, OrderServiceServer.UpdateItem),
		unaryMethod(MethodListItems, OrderServiceServer.ListItems),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shop/v1/order_service.proto",
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient — клиент shop.v1.OrderService.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента поверх соединения.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

// Call вызывает метод сервиса по имени.
func (c *OrderServiceClient) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
