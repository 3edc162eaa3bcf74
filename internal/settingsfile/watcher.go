package settingsfile

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches one settings file for rewrites and reloads it on change.
// Modeled on the teacher's git-HEAD watcher: fsnotify is asked to watch the
// containing directory rather than the file itself, since watching a single
// file directly misses editors that replace it via rename instead of write.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	onLoad  func(map[string]any, error)

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Watch starts watching path and calls onLoad, with the freshly reloaded
// settings map (or the reload error), every time the file is written or
// recreated.
func Watch(path string, onLoad func(map[string]any, error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		path:    filepath.Clean(path),
		onLoad:  onLoad,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			out, err := Load(w.path)
			w.onLoad(out, err)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onLoad(nil, err)
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}
