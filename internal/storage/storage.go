// Package storage defines the persistence capabilities nodes write records
// through and expire them with.
package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/module"
)

const ModuleName = "storage"

// TimeBucketLayout is the minute precision layout of a time bucket.
const TimeBucketLayout = "200601021504"

// Model describes one kind of persisted data.
type Model struct {
	Name string
	// Record models hold raw records and expire after the record TTL. All
	// other models expire after the metrics TTL.
	Record bool
	// TimeSeries models are bucketed by time. Only they expire.
	TimeSeries bool
}

// HistoryDeleteDAO removes data older than a retention window.
type HistoryDeleteDAO interface {
	// DeleteHistory removes every entry of model whose time bucket is more
	// than ttlDays old. Deleting already absent data is not an error.
	DeleteHistory(ctx context.Context, model Model, ttlDays int) error
	// Inspect runs after a full cleanup pass over models.
	Inspect(ctx context.Context, models []Model) error
}

// RecordDAO writes and reads entries of a model.
type RecordDAO interface {
	Put(ctx context.Context, model string, timeBucket int64, id string, value []byte) error
	// Count returns the number of entries stored for model.
	Count(ctx context.Context, model string) (int, error)
}

// ModelManager is the set of models known to the node.
type ModelManager interface {
	AddModel(m Model) error
	AllModels() []Model
}

func Definition() module.Definition {
	return module.NewDefinition(ModuleName,
		module.ServiceType[HistoryDeleteDAO](),
		module.ServiceType[RecordDAO](),
	)
}

// Register adds the storage module definition to c.
func Register(c *module.Catalog) {
	c.Define(Definition())
}

// TimeBucket returns the minute bucket of t, for example 202603010815.
func TimeBucket(t time.Time) int64 {
	b, _ := strconv.ParseInt(t.UTC().Format(TimeBucketLayout), 10, 64)
	return b
}

// ParseTimeBucket is the inverse of TimeBucket.
func ParseTimeBucket(b int64) (time.Time, error) {
	t, err := time.Parse(TimeBucketLayout, strconv.FormatInt(b, 10))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid time bucket %d", b)
	}
	return t, nil
}

// ModelRegistry is the in-memory ModelManager.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: map[string]Model{}}
}

func (r *ModelRegistry) AddModel(m Model) error {
	if m.Name == "" {
		return errors.New("model name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.models[m.Name]; ok && existing != m {
		return errors.Newf("model %q already registered with different settings", m.Name)
	}
	r.models[m.Name] = m
	return nil
}

// AllModels returns the models ordered by name.
func (r *ModelRegistry) AllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
