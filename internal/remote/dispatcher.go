package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Dispatcher hands a payload received for worker to the in-process
// component that owns it.
type Dispatcher interface {
	Dispatch(ctx context.Context, worker string, payload []byte) error
}

// WorkerFunc consumes one payload.
type WorkerFunc func(ctx context.Context, payload []byte) error

type UnknownWorkerError struct {
	Worker string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("no worker registered as %q", e.Worker)
}

// WorkerRegistry is the Dispatcher of a node. Components register their
// workers during Start.
type WorkerRegistry struct {
	mu      sync.RWMutex
	workers map[string]WorkerFunc
}

func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{workers: map[string]WorkerFunc{}}
}

func (r *WorkerRegistry) Register(name string, fn WorkerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[name]; ok {
		return errors.Newf("worker %q already registered", name)
	}
	r.workers[name] = fn
	return nil
}

func (r *WorkerRegistry) Workers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *WorkerRegistry) Dispatch(ctx context.Context, worker string, payload []byte) error {
	r.mu.RLock()
	fn, ok := r.workers[worker]
	r.mu.RUnlock()
	if !ok {
		return &UnknownWorkerError{Worker: worker}
	}
	return fn(ctx, payload)
}
