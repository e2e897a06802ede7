package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RecordType says which kind of record a dropped file holds.
type RecordType int

const (
	// TypeEvent is a file under inbox/events.
	TypeEvent RecordType = iota
	// TypeTask is a file under inbox/tasks.
	TypeTask
)

func (rt RecordType) String() string {
	switch rt {
	case TypeEvent:
		return "event"
	case TypeTask:
		return "task"
	default:
		return "unknown"
	}
}

// InboxFile is a JSON file that appeared or changed in the inbox.
type InboxFile struct {
	Path string
	Type RecordType
}

// InboxWatcher watches the inbox directories for dropped *.json records.
type InboxWatcher struct {
	watcher   *fsnotify.Watcher
	files     chan InboxFile
	errors    chan error
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	eventsDir string
	tasksDir  string
}

// NewInboxWatcher creates a watcher. Nothing is emitted before Start.
func NewInboxWatcher() (*InboxWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &InboxWatcher{
		watcher: watcher,
		files:   make(chan InboxFile, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start watches eventsDir and tasksDir. Both must exist.
func (iw *InboxWatcher) Start(eventsDir, tasksDir string) error {
	iw.mu.Lock()
	defer iw.mu.Unlock()

	if iw.running {
		return fmt.Errorf("watcher already running")
	}

	var err error
	if iw.eventsDir, err = filepath.Abs(eventsDir); err != nil {
		return fmt.Errorf("failed to resolve %s: %w", eventsDir, err)
	}
	if iw.tasksDir, err = filepath.Abs(tasksDir); err != nil {
		return fmt.Errorf("failed to resolve %s: %w", tasksDir, err)
	}

	if err := iw.watcher.Add(iw.eventsDir); err != nil {
		return fmt.Errorf("failed to watch events inbox %s: %w", eventsDir, err)
	}
	if err := iw.watcher.Add(iw.tasksDir); err != nil {
		_ = iw.watcher.Remove(iw.eventsDir)
		return fmt.Errorf("failed to watch tasks inbox %s: %w", tasksDir, err)
	}

	iw.running = true
	iw.wg.Add(1)
	go iw.processEvents()

	return nil
}

// Stop closes the watcher and waits for the event loop. The Files and
// Errors channels are closed afterwards.
func (iw *InboxWatcher) Stop() error {
	iw.mu.Lock()
	if !iw.running {
		iw.mu.Unlock()
		return nil
	}
	iw.running = false
	iw.mu.Unlock()

	close(iw.done)

	if err := iw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	iw.wg.Wait()

	close(iw.files)
	close(iw.errors)

	return nil
}

// Files returns the channel of dropped files.
func (iw *InboxWatcher) Files() <-chan InboxFile {
	return iw.files
}

// Errors returns the channel of watcher errors.
func (iw *InboxWatcher) Errors() <-chan error {
	return iw.errors
}

// IsRunning reports whether Start succeeded and Stop was not called yet.
func (iw *InboxWatcher) IsRunning() bool {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.running
}

func (iw *InboxWatcher) processEvents() {
	defer iw.wg.Done()

	for {
		select {
		case <-iw.done:
			return

		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if file, ok := iw.convertEvent(event); ok {
				select {
				case iw.files <- file:
				case <-iw.done:
					return
				}
			}

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case iw.errors <- err:
			case <-iw.done:
				return
			}
		}
	}
}

// convertEvent keeps creates and writes of *.json files. Removals are
// ignored: the daemon removes files itself once they are imported.
func (iw *InboxWatcher) convertEvent(event fsnotify.Event) (InboxFile, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return InboxFile{}, false
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return InboxFile{}, false
	}

	typ, ok := iw.recordType(event.Name)
	if !ok {
		return InboxFile{}, false
	}
	return InboxFile{Path: event.Name, Type: typ}, true
}

func (iw *InboxWatcher) recordType(path string) (RecordType, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}

	switch filepath.Dir(abs) {
	case iw.eventsDir:
		return TypeEvent, true
	case iw.tasksDir:
		return TypeTask, true
	}
	return 0, false
}
