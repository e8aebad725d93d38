package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "parcel.api.Parcel"

// ParcelServer is the API surface. Requests and replies are generic structs
// so the service needs no generated code.
type ParcelServer interface {
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyTotp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Me(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListUploads(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUpload(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteUploads(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UploadStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTeams(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// FullMethod returns the "/service/method" path of an RPC.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func unary[Req proto.Message](name string, newReq func() Req, call func(ParcelServer, context.Context, Req) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ParcelServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ParcelServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Parcel service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ParcelServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SignIn", newStruct, ParcelServer.SignIn),
		unary("VerifyTotp", newStruct, ParcelServer.VerifyTotp),
		unary("Me", newEmpty, ParcelServer.Me),
		unary("ListUploads", newStruct, ParcelServer.ListUploads),
		unary("GetUpload", newStruct, ParcelServer.GetUpload),
		unary("DeleteUploads", newStruct, ParcelServer.DeleteUploads),
		unary("UploadStats", newStruct, ParcelServer.UploadStats),
		unary("ListTeams", newEmpty, ParcelServer.ListTeams),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "parcel/api.proto",
}

// RegisterParcelServer registers srv with s.
func RegisterParcelServer(s grpc.ServiceRegistrar, srv ParcelServer) {
	s.RegisterService(&ServiceDesc, srv)
}
