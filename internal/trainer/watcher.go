package trainer

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/pigmentdev/pigment/internal/logger"
)

// checkpointWatcher logs checkpoint directories as the external trainer
// writes them, so long runs report progress without pigment parsing the
// trainer's stdout.
type checkpointWatcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

func watchCheckpoints(outputDir string, log logger.Logger) (*checkpointWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(outputDir); err != nil {
		_ = fs.Close()
		return nil, err
	}

	w := &checkpointWatcher{fs: fs, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			select {
			case ev, ok := <-fs.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				if strings.HasPrefix(filepath.Base(ev.Name), "checkpoint-") {
					log.Info("checkpoint written", "path", ev.Name)
				}
			case err, ok := <-fs.Errors:
				if !ok {
					return
				}
				log.Warn("checkpoint watcher error", "error", err)
			}
		}
	}()
	return w, nil
}

func (w *checkpointWatcher) Close() {
	_ = w.fs.Close()
	<-w.done
}
