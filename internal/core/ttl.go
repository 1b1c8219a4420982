package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/anvil-platform/strata/internal/cluster"
	"github.com/anvil-platform/strata/internal/storage"
)

// DataTTLKeeper periodically deletes data past its retention. Only the node
// sorted first in the member list deletes; if two nodes both believe they
// are first the deletes overlap, which is harmless because deletion is
// idempotent.
type DataTTLKeeper struct {
	nodes  cluster.NodesQuery
	dao    storage.HistoryDeleteDAO
	models storage.ModelManager
	logger logr.Logger

	recordTTL  atomic.Int64
	metricsTTL atomic.Int64
}

func NewDataTTLKeeper(nodes cluster.NodesQuery, dao storage.HistoryDeleteDAO, models storage.ModelManager, recordTTL, metricsTTL int, logger logr.Logger) *DataTTLKeeper {
	k := &DataTTLKeeper{nodes: nodes, dao: dao, models: models, logger: logger}
	k.SetTTL(recordTTL, metricsTTL)
	return k
}

// SetTTL changes the retention in days used from the next run. Zero keeps
// the current value.
func (k *DataTTLKeeper) SetTTL(recordTTL, metricsTTL int) {
	if recordTTL > 0 {
		k.recordTTL.Store(int64(recordTTL))
	}
	if metricsTTL > 0 {
		k.metricsTTL.Store(int64(metricsTTL))
	}
}

func (k *DataTTLKeeper) TTL() (recordTTL, metricsTTL int) {
	return int(k.recordTTL.Load()), int(k.metricsTTL.Load())
}

// Run waits period between runs until ctx is done. The first run happens
// one period after Run is called.
func (k *DataTTLKeeper) Run(ctx context.Context, period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := k.RunOnce(ctx); err != nil {
				k.logger.Error(err, "failed to remove expired data")
			}
		}
	}
}

// RunOnce deletes expired data if this node leads the member list and then
// inspects storage. deleted reports whether deletion ran.
func (k *DataTTLKeeper) RunOnce(ctx context.Context) (deleted bool, err error) {
	models := k.models.AllModels()
	defer func() {
		k.logger.V(1).Info("inspecting storage", "models", len(models))
		err = multierr.Append(err, k.dao.Inspect(ctx, models))
	}()

	instances, err := k.nodes.QueryRemoteNodes(ctx)
	if err != nil {
		return false, err
	}
	instances = cluster.Distinct(instances)
	cluster.SortInstances(instances)
	if len(instances) > 0 && !instances[0].Address.Self {
		k.logger.Info("another node leads data removal, skipping", "leader", instances[0].Address.String())
		return false, nil
	}

	recordTTL, metricsTTL := k.TTL()
	k.logger.Info("removing expired data", "recordDataTTL", recordTTL, "metricsDataTTL", metricsTTL)
	var errs error
	for _, m := range models {
		if !m.TimeSeries {
			continue
		}
		ttl := metricsTTL
		if m.Record {
			ttl = recordTTL
		}
		if err := k.dao.DeleteHistory(ctx, m, ttl); err != nil {
			k.logger.Error(err, "failed to delete history", "model", m.Name)
			errs = multierr.Append(errs, err)
		}
	}
	return true, errs
}
