package crash

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettleDelay is how long a record must be quiet before it is reported.
const DefaultSettleDelay = 200 * time.Millisecond

// Event announces a new crash record.
type Event struct {
	ID        string    // Crash ID (directory name)
	Path      string    // Absolute path to the record directory
	Timestamp time.Time // When the record was detected
}

// Watcher reports crash records as they appear under a crash directory.
// Records present when the watcher starts are not reported. Each ID is
// reported at most once.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	dir     string
	wg      sync.WaitGroup

	mu          sync.Mutex
	settleDelay time.Duration
	pending     map[string]*time.Timer
	seen        map[string]bool
	closed      bool
}

// NewWatcher watches the crash directory of projectRoot, creating it if
// absent.
func (s *Source) NewWatcher(projectRoot string) (*Watcher, error) {
	return NewWatcher(s.Path(projectRoot), DefaultSettleDelay)
}

// NewWatcher watches dir for new crash records.
func NewWatcher(dir string, settleDelay time.Duration) (*Watcher, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:     fsw,
		events:      make(chan Event, 16),
		errors:      make(chan error, 4),
		done:        make(chan struct{}),
		dir:         dir,
		settleDelay: settleDelay,
		pending:     make(map[string]*time.Timer),
		seen:        make(map[string]bool),
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	// Existing records are history, not news
	entries, err := os.ReadDir(dir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && IsID(e.Name()) {
			w.seen[e.Name()] = true
		}
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	rel, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		return
	}
	parts := splitPath(rel)
	if len(parts) == 0 || !IsID(parts[0]) {
		return
	}
	id := parts[0]
	recordDir := filepath.Join(w.dir, id)

	if len(parts) == 1 && event.Has(fsnotify.Create) {
		// Watch inside the new record so its files trigger the report
		if err := w.watcher.Add(recordDir); err != nil && !os.IsNotExist(err) {
			w.sendError(err)
		}
	}

	if hasRecordFile(recordDir) {
		w.schedule(id, recordDir)
	}
}

// schedule reports id once its record has been quiet for settleDelay.
func (w *Watcher) schedule(id, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.seen[id] {
		return
	}
	if timer, ok := w.pending[id]; ok {
		timer.Stop()
	}
	w.pending[id] = time.AfterFunc(w.settleDelay, func() {
		w.mu.Lock()
		if w.closed || w.seen[id] {
			w.mu.Unlock()
			return
		}
		delete(w.pending, id)
		w.seen[id] = true
		w.mu.Unlock()

		select {
		case w.events <- Event{ID: id, Path: path, Timestamp: time.Now()}:
		case <-w.done:
		}
	})
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	default:
		// Error channel full, drop the error
	}
}

// Events returns the channel of new crash records.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Dir returns the watched crash directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Close stops the watcher. Pending reports are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func hasRecordFile(dir string) bool {
	for _, name := range []string{RecordFile, TracebackFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func splitPath(rel string) []string {
	if rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return nil
	}
	return strings.Split(filepath.ToSlash(rel), "/")
}
