package scan

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// ChangeKind says what happened to a watched path.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

// Change is one add/remove event for a media file under the watched root.
type Change struct {
	Kind    ChangeKind
	RelPath string
}

// Watcher reports media files appearing and disappearing under one
// directory. It is discovery-only: the consumer decides what to index
// or drop.
type Watcher struct {
	root    string
	fw      *fsnotify.Watcher
	changes chan Change
	done    chan struct{}
}

// NewWatcher starts watching root. Call Close to release the handle.
func NewWatcher(root string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(root); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	w := &Watcher{
		root:    root,
		fw:      fw,
		changes: make(chan Change, 64),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes yields add/remove events; closed when the watcher stops.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Close stops the watcher and closes the changes channel.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.changes)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Debug("watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !IsMediaPath(ev.Name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	switch {
	case ev.Op.Has(fsnotify.Create):
		w.send(Change{Kind: Added, RelPath: rel})
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		w.send(Change{Kind: Removed, RelPath: rel})
	}
}

// send drops events when the consumer lags; the next full scan
// reconciles anything missed.
func (w *Watcher) send(c Change) {
	select {
	case w.changes <- c:
	default:
		log.WithField("path", c.RelPath).Debug("change channel full, dropping event")
	}
}
