// Package badger stores model entries in an embedded badger database.
package badger

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/go-logr/logr"

	"github.com/anvil-platform/strata/internal/storage"
)

// bucketWidth is the number of digits of a minute time bucket. Keys pad the
// bucket to this width so they sort chronologically.
const bucketWidth = 12

// DAO implements storage.HistoryDeleteDAO and storage.RecordDAO. Keys are
// <model>/<timeBucket>/<id>.
type DAO struct {
	db     *badgerdb.DB
	logger logr.Logger
	now    func() time.Time
}

func NewDAO(db *badgerdb.DB, logger logr.Logger) *DAO {
	return &DAO{db: db, logger: logger, now: time.Now}
}

func modelPrefix(model string) []byte {
	return []byte(model + "/")
}

func entryKey(model string, bucket int64, id string) []byte {
	return []byte(fmt.Sprintf("%s/%0*d/%s", model, bucketWidth, bucket, id))
}

// bucketOf extracts the time bucket of a key under prefix.
func bucketOf(key, prefix []byte) (int64, error) {
	rest := key[len(prefix):]
	end := bytes.IndexByte(rest, '/')
	if end < 0 {
		return 0, errors.Newf("malformed key %q", key)
	}
	return strconv.ParseInt(string(rest[:end]), 10, 64)
}

func (d *DAO) Put(ctx context.Context, model string, timeBucket int64, id string, value []byte) error {
	if model == "" || id == "" {
		return errors.New("model and id are required")
	}
	return d.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(entryKey(model, timeBucket, id), value)
	})
}

func (d *DAO) Count(ctx context.Context, model string) (int, error) {
	prefix := modelPrefix(model)
	n := 0
	err := d.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// expiredKeys lists keys of model older than deadline. Keys are ordered by
// bucket, so the scan stops at the first live entry.
func (d *DAO) expiredKeys(ctx context.Context, model string, deadline int64) ([][]byte, error) {
	prefix := modelPrefix(model)
	var keys [][]byte
	err := d.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			bucket, err := bucketOf(key, prefix)
			if err != nil {
				d.logger.Error(err, "skipping malformed key", "model", model)
				continue
			}
			if bucket >= deadline {
				return nil
			}
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

func (d *DAO) DeleteHistory(ctx context.Context, model storage.Model, ttlDays int) error {
	if ttlDays <= 0 {
		return errors.Newf("ttl for model %s must be positive, got %d", model.Name, ttlDays)
	}
	deadline := storage.TimeBucket(d.now().AddDate(0, 0, -ttlDays))
	keys, err := d.expiredKeys(ctx, model.Name, deadline)
	if err != nil {
		return errors.Wrapf(err, "scan %s", model.Name)
	}
	if len(keys) == 0 {
		return nil
	}

	wb := d.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return errors.Wrapf(err, "delete from %s", model.Name)
		}
	}
	if err := wb.Flush(); err != nil {
		return errors.Wrapf(err, "delete from %s", model.Name)
	}
	d.logger.V(1).Info("deleted expired entries", "model", model.Name, "count", len(keys), "before", deadline)
	return nil
}

// Inspect reclaims value log space after a cleanup pass.
func (d *DAO) Inspect(ctx context.Context, models []storage.Model) error {
	if d.db.Opts().InMemory {
		return nil
	}
	for {
		err := d.db.RunValueLogGC(0.5)
		if errors.Is(err, badgerdb.ErrNoRewrite) || errors.Is(err, badgerdb.ErrRejected) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "value log gc")
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
