// Package server hosts the gRPC endpoints of a node.
package server

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/grpc"
)

// GRPCHandlerRegister is the capability modules use to expose gRPC services
// on a shared server.
type GRPCHandlerRegister interface {
	grpc.ServiceRegistrar
	// AddUnaryInterceptor appends an interceptor run on every unary call.
	AddUnaryInterceptor(i grpc.UnaryServerInterceptor)
}

type pendingService struct {
	desc *grpc.ServiceDesc
	impl any
}

// DelegatingRegister queues registrations until Bind names the register
// that actually serves them. Interceptors added through it only run for
// services registered through it.
type DelegatingRegister struct {
	mu           sync.Mutex
	target       GRPCHandlerRegister
	services     []pendingService
	interceptors []grpc.UnaryServerInterceptor
	owned        map[string]bool
}

func NewDelegatingRegister() *DelegatingRegister {
	return &DelegatingRegister{owned: map[string]bool{}}
}

func (d *DelegatingRegister) RegisterService(desc *grpc.ServiceDesc, impl any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owned[desc.ServiceName] = true
	if d.target != nil {
		d.target.RegisterService(desc, impl)
		return
	}
	d.services = append(d.services, pendingService{desc: desc, impl: impl})
}

func (d *DelegatingRegister) AddUnaryInterceptor(i grpc.UnaryServerInterceptor) {
	scoped := d.scope(i)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.target != nil {
		d.target.AddUnaryInterceptor(scoped)
		return
	}
	d.interceptors = append(d.interceptors, scoped)
}

func (d *DelegatingRegister) scope(i grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !d.owns(info.FullMethod) {
			return handler(ctx, req)
		}
		return i(ctx, req, info, handler)
	}
}

// owns reports whether fullMethod, in the form /service/method, belongs to a
// service registered through d.
func (d *DelegatingRegister) owns(fullMethod string) bool {
	service := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(service, "/"); i >= 0 {
		service = service[:i]
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owned[service]
}

// Bind forwards queued and future registrations to target.
func (d *DelegatingRegister) Bind(target GRPCHandlerRegister) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, i := range d.interceptors {
		target.AddUnaryInterceptor(i)
	}
	for _, s := range d.services {
		target.RegisterService(s.desc, s.impl)
	}
	d.target, d.services, d.interceptors = target, nil, nil
}
