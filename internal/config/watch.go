package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// CatalogWatcher polls the catalog file and hands every good reload to OnUpdate.
type CatalogWatcher struct {
	Path     string
	Interval time.Duration
	OnUpdate func(*Catalog)
	// OnError receives stat and parse failures. The last good catalog stays
	// in effect until the file is fixed.
	OnError func(error)
}

type fileStamp struct {
	mod  time.Time
	size int64
}

func stampOf(info os.FileInfo) fileStamp {
	return fileStamp{mod: info.ModTime(), size: info.Size()}
}

// Start loads the catalog once, synchronously, and then watches the file
// until ctx is done. A change is applied only after the file has stayed the
// same for a full interval, so an editor mid-save is never read.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	info, err := os.Stat(w.Path)
	if err != nil {
		return err
	}
	cat, err := LoadCatalog(w.Path)
	if err != nil {
		return err
	}
	w.update(cat)

	go w.loop(ctx, interval, stampOf(info))
	return nil
}

func (w *CatalogWatcher) loop(ctx context.Context, interval time.Duration, applied fileStamp) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending *fileStamp
	var statFailed bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		info, err := os.Stat(w.Path)
		if err != nil {
			if !statFailed {
				w.fail(fmt.Errorf("stat catalog: %w", err))
			}
			statFailed = true
			continue
		}
		statFailed = false

		current := stampOf(info)
		if current == applied {
			pending = nil
			continue
		}
		if pending == nil || *pending != current {
			pending = &current
			continue
		}

		pending = nil
		applied = current
		cat, err := LoadCatalog(w.Path)
		if err != nil {
			w.fail(err)
			continue
		}
		w.update(cat)
	}
}

func (w *CatalogWatcher) update(cat *Catalog) {
	if w.OnUpdate != nil {
		w.OnUpdate(cat)
	}
}

func (w *CatalogWatcher) fail(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}
