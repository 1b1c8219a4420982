// Package configuration lets modules react to settings that change while
// the node runs.
package configuration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"

	"github.com/anvil-platform/strata/internal/module"
)

const ModuleName = "configuration"

type EventType int

const (
	EventAdd EventType = iota
	EventModify
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "Add"
	case EventModify:
		return "Modify"
	case EventDelete:
		return "Delete"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event carries the new value of a watched key. NewValue is empty for
// EventDelete.
type Event struct {
	NewValue string
	Type     EventType
}

// Watcher observes one dynamic setting.
type Watcher interface {
	// Key is module.provider.item.
	Key() string
	// Value is the value currently applied. Empty means unset.
	Value() string
	Notify(e Event)
}

// WatcherKey builds the key of an item owned by a module provider.
func WatcherKey(moduleName, provider, item string) string {
	return moduleName + "." + provider + "." + item
}

// DynamicConfigurationService is the capability of the configuration module.
type DynamicConfigurationService interface {
	RegisterWatcher(w Watcher) error
}

func Definition() module.Definition {
	return module.NewDefinition(ModuleName, module.ServiceType[DynamicConfigurationService]())
}

// Reader fetches the current values of keys from a configuration source.
// Keys without a value are left out of the result.
type Reader interface {
	Read(ctx context.Context, keys []string) (map[string]string, error)
}

// WatcherRegister keeps the registered watchers and brings them in line with
// a Reader on every Sync.
type WatcherRegister struct {
	reader Reader
	logger logr.Logger

	mu       sync.Mutex
	watchers map[string]Watcher
	// syncMu serializes Sync.
	syncMu sync.Mutex
}

// NewWatcherRegister returns a register backed by reader. A nil reader never
// notifies.
func NewWatcherRegister(reader Reader, logger logr.Logger) *WatcherRegister {
	return &WatcherRegister{reader: reader, logger: logger, watchers: map[string]Watcher{}}
}

func (r *WatcherRegister) RegisterWatcher(w Watcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watchers[w.Key()]; ok {
		return errors.Newf("watcher for %q already registered", w.Key())
	}
	r.watchers[w.Key()] = w
	r.logger.V(1).Info("registered configuration watcher", "key", w.Key())
	return nil
}

// Keys returns the watched keys in order.
func (r *WatcherRegister) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.watchers))
	for k := range r.watchers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *WatcherRegister) watcher(key string) Watcher {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watchers[key]
}

// Sync reads every watched key and notifies the watchers whose value
// changed.
func (r *WatcherRegister) Sync(ctx context.Context) error {
	if r.reader == nil {
		return nil
	}
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	keys := r.Keys()
	if len(keys) == 0 {
		return nil
	}
	values, err := r.reader.Read(ctx, keys)
	if err != nil {
		return errors.Wrap(err, "read dynamic configuration")
	}
	for _, key := range keys {
		w := r.watcher(key)
		current := w.Value()
		next, ok := values[key]
		switch {
		case !ok && current != "":
			r.notify(w, Event{Type: EventDelete})
		case ok && current == "":
			r.notify(w, Event{NewValue: next, Type: EventAdd})
		case ok && current != next:
			r.notify(w, Event{NewValue: next, Type: EventModify})
		}
	}
	return nil
}

func (r *WatcherRegister) notify(w Watcher, e Event) {
	r.logger.Info("dynamic configuration changed", "key", w.Key(), "event", e.Type.String(), "value", e.NewValue)
	w.Notify(e)
}

// ValueWatcher is a Watcher holding a string that calls OnChange after every
// update.
type ValueWatcher struct {
	key      string
	onChange func(Event)

	mu    sync.RWMutex
	value string
}

func NewValueWatcher(key, initial string, onChange func(Event)) *ValueWatcher {
	return &ValueWatcher{key: key, value: initial, onChange: onChange}
}

func (w *ValueWatcher) Key() string { return w.key }

func (w *ValueWatcher) Value() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.value
}

func (w *ValueWatcher) Notify(e Event) {
	w.mu.Lock()
	if e.Type == EventDelete {
		w.value = ""
	} else {
		w.value = e.NewValue
	}
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(e)
	}
}
