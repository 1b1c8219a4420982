package file

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// Follow forwards events on path from watcher to changed until ctx is done.
// Signals coalesce while a previous one is pending. The directory is watched
// rather than the file so editors that replace the file are followed.
func Follow(ctx context.Context, watcher *fsnotify.Watcher, path string, changed chan<- struct{}, logger logr.Logger) {
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.V(1).Info("dynamic configuration file changed", "op", ev.Op.String())
			select {
			case changed <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error(err, "file watcher error")
		}
	}
}
