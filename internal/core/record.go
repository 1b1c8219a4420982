package core

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/anvil-platform/strata/internal/remote"
	"github.com/anvil-platform/strata/internal/storage"
)

// RecordWorkerName is the worker that persists records pushed by peers.
const RecordWorkerName = "storage.record"

// RecordPayload is the JSON payload accepted by the record worker.
type RecordPayload struct {
	Model      string          `json:"model"`
	TimeBucket int64           `json:"timeBucket"`
	ID         string          `json:"id"`
	Value      json.RawMessage `json:"value"`
}

// NewRecordWorker stores every payload for a model known to models.
func NewRecordWorker(dao storage.RecordDAO, models storage.ModelManager) remote.WorkerFunc {
	return func(ctx context.Context, payload []byte) error {
		var rec RecordPayload
		if err := json.Unmarshal(payload, &rec); err != nil {
			return errors.Wrap(err, "decode record")
		}
		known := false
		for _, m := range models.AllModels() {
			if m.Name == rec.Model {
				known = true
				break
			}
		}
		if !known {
			return errors.Newf("unknown model %q", rec.Model)
		}
		if _, err := storage.ParseTimeBucket(rec.TimeBucket); err != nil {
			return err
		}
		return dao.Put(ctx, rec.Model, rec.TimeBucket, rec.ID, rec.Value)
	}
}
