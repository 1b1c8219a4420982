package discovery

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DiscoveryServiceName      = "strata.discovery.v1.ConfigurationDiscoveryService"
	FetchConfigurationsMethod = "/" + DiscoveryServiceName + "/FetchConfigurations"

	// CommandName names the command carried in a fetch response.
	CommandName = "ConfigurationDiscoveryCommand"
)

type configurationDiscovery interface {
	FetchConfigurations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// DiscoveryServiceDesc describes the configuration discovery service.
// Requests and responses are google.protobuf.Struct values.
var DiscoveryServiceDesc = grpc.ServiceDesc{
	ServiceName: DiscoveryServiceName,
	HandlerType: (*configurationDiscovery)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchConfigurations", Handler: fetchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "strata/discovery/v1/discovery.proto",
}

func fetchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(configurationDiscovery).FetchConfigurations(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FetchConfigurationsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(configurationDiscovery).FetchConfigurations(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type handler struct {
	watcher              *Watcher
	disableMessageDigest bool
}

// FetchConfigurations answers an agent asking for its service's
// configuration. The request carries "service" and the "uuid" the agent
// applied last. The response's "commands" list is empty when that uuid is
// still current.
func (h *handler) FetchConfigurations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	service := fields["service"].GetStringValue()
	if service == "" {
		return nil, status.Error(codes.InvalidArgument, "service is required")
	}

	commands := []any{}
	current := h.watcher.Configurations(service)
	if h.disableMessageDigest || current.UUID != fields["uuid"].GetStringValue() {
		commands = append(commands, command(current))
	}
	out, err := structpb.NewStruct(map[string]any{"commands": commands})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func command(c AgentConfigurations) map[string]any {
	config := make(map[string]any, len(c.Configuration))
	for k, v := range c.Configuration {
		config[k] = v
	}
	return map[string]any{
		"command":        CommandName,
		"serialNumber":   uuid.NewString(),
		"uuid":           c.UUID,
		"configurations": config,
	}
}

// RegisterDiscovery adds the configuration discovery service backed by w to
// r.
func RegisterDiscovery(r grpc.ServiceRegistrar, w *Watcher, disableMessageDigest bool) {
	r.RegisterService(&DiscoveryServiceDesc, &handler{watcher: w, disableMessageDigest: disableMessageDigest})
}
