package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "stockledger.v1.StockService"

// StockServiceServer — серверная часть stockledger.v1.StockService.
type StockServiceServer interface {
	ValidateStock(context.Context, *ValidateStockRequest) (*ValidateStockResponse, error)
	ValidateCart(context.Context, *ValidateStockRequest) (*ValidateCartResponse, error)
	GetStock(context.Context, *GetStockRequest) (*GetStockResponse, error)
	AdjustStock(context.Context, *AdjustStockRequest) (*AdjustStockResponse, error)
	RegisterProduct(context.Context, *RegisterProductRequest) (*ProductResponse, error)
	RegisterVariant(context.Context, *RegisterVariantRequest) (*ProductResponse, error)
	ListStockHistory(context.Context, *ListStockHistoryRequest) (*ListStockHistoryResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRequest) (*OrderResponse, error)
	ProcessOrderPayment(context.Context, *OrderRequest) (*TransitionResponse, error)
	ProcessOrderRefund(context.Context, *OrderRequest) (*TransitionResponse, error)
	ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*TransitionResponse, error)
}

// StockServiceDesc описывает методы сервиса для grpc.Server.
var StockServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ValidateStock", Handler: unary("ValidateStock", StockServiceServer.ValidateStock)},
		{MethodName: "ValidateCart", Handler: unary("ValidateCart", StockServiceServer.ValidateCart)},
		{MethodName: "GetStock", Handler: unary("GetStock", StockServiceServer.GetStock)},
		{MethodName: "AdjustStock", Handler: unary("AdjustStock", StockServiceServer.AdjustStock)},
		{MethodName: "RegisterProduct", Handler: unary("RegisterProduct", StockServiceServer.RegisterProduct)},
		{MethodName: "RegisterVariant", Handler: unary("RegisterVariant", StockServiceServer.RegisterVariant)},
		{MethodName: "ListStockHistory", Handler: unary("ListStockHistory", StockServiceServer.ListStockHistory)},
		{MethodName: "PlaceOrder", Handler: unary("PlaceOrder", StockServiceServer.PlaceOrder)},
		{MethodName: "GetOrder", Handler: unary("GetOrder", StockServiceServer.GetOrder)},
		{MethodName: "ProcessOrderPayment", Handler: unary("ProcessOrderPayment", StockServiceServer.ProcessOrderPayment)},
		{MethodName: "ProcessOrderRefund", Handler: unary("ProcessOrderRefund", StockServiceServer.ProcessOrderRefund)},
		{MethodName: "ChangeOrderStatus", Handler: unary("ChangeOrderStatus", StockServiceServer.ChangeOrderStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockledger/v1/stock_service",
}

// RegisterStockServiceServer регистрирует реализацию на сервере.
func RegisterStockServiceServer(s grpc.ServiceRegistrar, srv StockServiceServer) {
	s.RegisterService(&StockServiceDesc, srv)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Req, Resp any](
	method string,
	call func(StockServiceServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	info := &grpc.UnaryServerInfo{FullMethod: fullMethod(method)}

	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(StockServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}

		methodInfo := *info
		methodInfo.Server = srv
		return interceptor(ctx, in, &methodInfo, func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		})
	}
}

// StockServiceClient вызывает StockService с JSON-кодеком.
type StockServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStockServiceClient создаёт клиента поверх соединения.
func NewStockServiceClient(cc grpc.ClientConnInterface) *StockServiceClient {
	return &StockServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *StockServiceClient, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockServiceClient) ValidateStock(ctx context.Context, in *ValidateStockRequest, opts ...grpc.CallOption) (*ValidateStockResponse, error) {
	return invoke[ValidateStockResponse](ctx, c, "ValidateStock", in, opts)
}

func (c *StockServiceClient) ValidateCart(ctx context.Context, in *ValidateStockRequest, opts ...grpc.CallOption) (*ValidateCartResponse, error) {
	return invoke[ValidateCartResponse](ctx, c, "ValidateCart", in, opts)
}

func (c *StockServiceClient) GetStock(ctx context.Context, in *GetStockRequest, opts ...grpc.CallOption) (*GetStockResponse, error) {
	return invoke[GetStockResponse](ctx, c, "GetStock", in, opts)
}

func (c *StockServiceClient) AdjustStock(ctx context.Context, in *AdjustStockRequest, opts ...grpc.CallOption) (*AdjustStockResponse, error) {
	return invoke[AdjustStockResponse](ctx, c, "AdjustStock", in, opts)
}

func (c *StockServiceClient) RegisterProduct(ctx context.Context, in *RegisterProductRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[ProductResponse](ctx, c, "RegisterProduct", in, opts)
}

func (c *StockServiceClient) RegisterVariant(ctx context.Context, in *RegisterVariantRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	return invoke[ProductResponse](ctx, c, "RegisterVariant", in, opts)
}

func (c *StockServiceClient) ListStockHistory(ctx context.Context, in *ListStockHistoryRequest, opts ...grpc.CallOption) (*ListStockHistoryResponse, error) {
	return invoke[ListStockHistoryResponse](ctx, c, "ListStockHistory", in, opts)
}

func (c *StockServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "PlaceOrder", in, opts)
}

func (c *StockServiceClient) GetOrder(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "GetOrder", in, opts)
}

func (c *StockServiceClient) ProcessOrderPayment(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*TransitionResponse, error) {
	return invoke[TransitionResponse](ctx, c, "ProcessOrderPayment", in, opts)
}

func (c *StockServiceClient) ProcessOrderRefund(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*TransitionResponse, error) {
	return invoke[TransitionResponse](ctx, c, "ProcessOrderRefund", in, opts)
}

func (c *StockServiceClient) ChangeOrderStatus(ctx context.Context, in *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*TransitionResponse, error) {
	return invoke[TransitionResponse](ctx, c, "ChangeOrderStatus", in, opts)
}
