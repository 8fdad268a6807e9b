package replay

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"votewatch/internal/extract"
)

// Watcher monitors a directory for raw response captures and runs each one
// through the extractor in dry-run mode. Nothing is calibrated or persisted;
// the point is diagnosing extractor failures offline from dump artifacts.
type Watcher struct {
	dir     string
	enabled bool
}

func New(dir string, enabled bool) *Watcher {
	return &Watcher{dir: dir, enabled: enabled}
}

// Start begins watching. Returns nil immediately when disabled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.enabled {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && w.isCapture(evt.Name) {
					w.Process(evt.Name)
				}
			case err := <-watcher.Errors:
				log.Printf("replay: watcher error: %v", err)
			}
		}
	}()
	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	log.Printf("replay: watching %s for raw captures", w.dir)
	return w.Backfill()
}

// Backfill re-parses captures already present in the directory.
func (w *Watcher) Backfill() error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if w.isCapture(e) {
			w.Process(e)
		}
	}
	return nil
}

func (w *Watcher) isCapture(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".json":
		return true
	default:
		return false
	}
}

// Process parses one capture and logs the outcome.
func (w *Watcher) Process(path string) []extract.Observation {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("replay: read %s: %v", filepath.Base(path), err)
		return nil
	}
	obs := extract.Extract(string(data))
	if len(obs) == 0 {
		log.Printf("replay: %s: no candidates extracted (%d bytes)", filepath.Base(path), len(data))
		return nil
	}
	top := obs[0]
	log.Printf("replay: %s: %d candidates, top %s at %.6f%%", filepath.Base(path), len(obs), top.Name, top.Percent)
	return obs
}
