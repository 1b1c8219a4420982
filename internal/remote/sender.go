package remote

import (
	"context"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrNoRemoteClients is returned when the pool is empty.
var ErrNoRemoteClients = errors.New("no remote clients available")

// Selector picks the destination of a payload from the current pool.
type Selector int

const (
	// HashCode picks xxhash(key) mod pool size, so every node routes the
	// same key to the same member.
	HashCode Selector = iota
	// Rolling cycles through the pool.
	Rolling
	// ForeverFirst always picks the first member.
	ForeverFirst
)

func (s Selector) String() string {
	switch s {
	case HashCode:
		return "HashCode"
	case Rolling:
		return "Rolling"
	case ForeverFirst:
		return "ForeverFirst"
	}
	return "Unknown"
}

// Sender routes payloads to pool members.
type Sender struct {
	clients interface{ RemoteClients() *Snapshot }
	next    atomic.Uint64
}

func NewSender(m *Manager) *Sender {
	return &Sender{clients: m}
}

// Pick returns the client selected for key.
func (s *Sender) Pick(key string, selector Selector) (Client, error) {
	snapshot := s.clients.RemoteClients()
	n := snapshot.Len()
	if n == 0 {
		return nil, ErrNoRemoteClients
	}
	switch selector {
	case HashCode:
		return snapshot.At(int(xxhash.Sum64String(key) % uint64(n))), nil
	case Rolling:
		return snapshot.At(int((s.next.Add(1) - 1) % uint64(n))), nil
	case ForeverFirst:
		return snapshot.At(0), nil
	}
	return nil, errors.Newf("unknown selector %d", int(selector))
}

// Send pushes payload to the worker on the member chosen by selector.
func (s *Sender) Send(ctx context.Context, worker, key string, payload []byte, selector Selector) error {
	c, err := s.Pick(key, selector)
	if err != nil {
		return err
	}
	return c.Push(ctx, worker, payload)
}
