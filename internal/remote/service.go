package remote

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "strata.remote.v1.RemoteService"
	PushMethod  = "/" + ServiceName + "/Push"
	// WorkerMetadataKey carries the target worker name of a Push.
	WorkerMetadataKey = "x-strata-worker"
)

type remoteServer interface {
	Push(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// ServiceDesc describes the remote service. Payloads travel as
// google.protobuf.BytesValue so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*remoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: pushHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strata/remote/v1/remote.proto",
}

func pushHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(remoteServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(remoteServer).Push(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

type service struct {
	dispatcher Dispatcher
}

func (s *service) Push(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	workers := md.Get(WorkerMetadataKey)
	if len(workers) == 0 || workers[0] == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s metadata", WorkerMetadataKey)
	}
	if err := s.dispatcher.Dispatch(ctx, workers[0], in.GetValue()); err != nil {
		var unknown *UnknownWorkerError
		if errors.As(err, &unknown) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// RegisterService serves the remote service on r, delivering every payload
// to d.
func RegisterService(r grpc.ServiceRegistrar, d Dispatcher) {
	r.RegisterService(&ServiceDesc, &service{dispatcher: d})
}
