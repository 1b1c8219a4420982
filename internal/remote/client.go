// Package remote maintains the pool of channels to the other nodes of the
// cluster and carries worker payloads over them.
package remote

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/anvil-platform/strata/internal/cluster"
)

// ErrClientClosed is returned by Push after Close.
var ErrClientClosed = errors.New("remote client is closed")

// Client is a send-capable handle on one cluster member.
type Client interface {
	Address() cluster.Address
	// Connect prepares the underlying channel. It is safe to call more than
	// once.
	Connect(ctx context.Context) error
	// Push delivers payload to the named worker on the member.
	Push(ctx context.Context, worker string, payload []byte) error
	// Close releases the channel. It is idempotent.
	Close() error
}

// SelfClient delivers payloads to this process without touching the network.
type SelfClient struct {
	addr       cluster.Address
	dispatcher Dispatcher
}

func NewSelfClient(addr cluster.Address, d Dispatcher) *SelfClient {
	addr.Self = true
	return &SelfClient{addr: addr, dispatcher: d}
}

func (c *SelfClient) Address() cluster.Address          { return c.addr }
func (c *SelfClient) Connect(ctx context.Context) error { return nil }
func (c *SelfClient) Close() error                      { return nil }

func (c *SelfClient) Push(ctx context.Context, worker string, payload []byte) error {
	return c.dispatcher.Dispatch(ctx, worker, payload)
}

type GRPCClientOptions struct {
	// Timeout bounds every Push.
	Timeout time.Duration
	// CAFile enables TLS verified against the given CA bundle.
	CAFile string
	// ServerNameOverride replaces the host used for TLS verification.
	ServerNameOverride string
	// DialOptions are appended after the transport credentials.
	DialOptions []grpc.DialOption
}

// GRPCClient pushes payloads to a peer's remote service.
type GRPCClient struct {
	addr cluster.Address
	opts GRPCClientOptions

	mu     sync.Mutex
	conn   *grpc.ClientConn
	closed bool
	once   sync.Once
}

func NewGRPCClient(addr cluster.Address, opts GRPCClientOptions) *GRPCClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	return &GRPCClient{addr: addr, opts: opts}
}

func (c *GRPCClient) Address() cluster.Address { return c.addr }

func (c *GRPCClient) transportCredentials() (credentials.TransportCredentials, error) {
	if c.opts.CAFile == "" {
		return insecure.NewCredentials(), nil
	}
	creds, err := credentials.NewClientTLSFromFile(c.opts.CAFile, c.opts.ServerNameOverride)
	if err != nil {
		return nil, errors.Wrapf(err, "load CA %s", c.opts.CAFile)
	}
	return creds, nil
}

func (c *GRPCClient) clientConn() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}
	creds, err := c.transportCredentials()
	if err != nil {
		return nil, err
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, c.opts.DialOptions...)
	conn, err := grpc.NewClient(c.addr.Key(), dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.addr)
	}
	c.conn = conn
	return conn, nil
}

// Connect creates the channel and asks it to leave idle. It does not wait
// for the peer to become ready.
func (c *GRPCClient) Connect(ctx context.Context) error {
	conn, err := c.clientConn()
	if err != nil {
		return err
	}
	conn.Connect()
	return nil
}

func (c *GRPCClient) Push(ctx context.Context, worker string, payload []byte) error {
	conn, err := c.clientConn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, WorkerMetadataKey, worker)
	if err := conn.Invoke(ctx, PushMethod, wrapperspb.Bytes(payload), &emptypb.Empty{}); err != nil {
		return errors.Wrapf(err, "push to %s", c.addr)
	}
	return nil
}

func (c *GRPCClient) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = true
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
