package sharing

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/anvil-platform/strata/internal/core"
	"github.com/anvil-platform/strata/internal/remote"
)

const (
	ReceiverServiceName = "strata.receiver.v1.RecordReceiver"
	CollectMethod       = "/" + ReceiverServiceName + "/Collect"
)

type recordReceiver interface {
	Collect(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// ReceiverServiceDesc describes the record receiver. A request is a
// JSON-encoded core.RecordPayload wrapped in google.protobuf.BytesValue.
var ReceiverServiceDesc = grpc.ServiceDesc{
	ServiceName: ReceiverServiceName,
	HandlerType: (*recordReceiver)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Collect", Handler: collectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strata/receiver/v1/receiver.proto",
}

func collectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(recordReceiver).Collect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CollectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(recordReceiver).Collect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RecordSender routes a payload to the member owning key.
type RecordSender interface {
	Send(ctx context.Context, worker, key string, payload []byte, selector remote.Selector) error
}

type receiver struct {
	sender RecordSender
}

// Collect forwards the record to the node chosen by hashing its model and
// id, so every copy of a record lands on the same member.
func (r *receiver) Collect(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	var rec core.RecordPayload
	if err := json.Unmarshal(in.GetValue(), &rec); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode record: %v", err)
	}
	if rec.Model == "" || rec.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "record model and id are required")
	}
	err := r.sender.Send(ctx, core.RecordWorkerName, rec.Model+"/"+rec.ID, in.GetValue(), remote.HashCode)
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, remote.ErrNoRemoteClients):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
}

// RegisterReceiver adds the record receiver backed by sender to r.
func RegisterReceiver(r grpc.ServiceRegistrar, sender RecordSender) {
	r.RegisterService(&ReceiverServiceDesc, &receiver{sender: sender})
}
