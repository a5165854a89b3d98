package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"biograph/internal/kvstore"
)

var ErrNotFileBacked = errors.New("settings: store is not file backed")

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads the Provider when the settings file is edited outside
// this process.
type Watcher struct {
	provider *Provider
	path     string
	dir      string
	debounce time.Duration
	log      *zap.Logger
}

// NewWatcher fails with ErrNotFileBacked unless the provider's store is a
// FileStore, possibly behind a cache.
func NewWatcher(p *Provider) (*Watcher, error) {
	fs, ok := kvstore.FileBacked(p.Store())
	if !ok {
		return nil, ErrNotFileBacked
	}
	return &Watcher{
		provider: p,
		path:     filepath.Clean(fs.PathFor(Key)),
		dir:      fs.Root(),
		debounce: defaultDebounce,
		log:      p.log.Named("watcher"),
	}, nil
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching settings", zap.String("path", w.path))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("fsnotify error", zap.Error(err))
		case <-timer.C:
			kvstore.Invalidate(w.provider.Store(), Key)
			w.provider.Reload(ctx)
		}
	}
}
