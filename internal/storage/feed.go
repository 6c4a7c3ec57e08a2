package storage

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const watcherBuffer = 256

// Event describes one committed change of a tree node.
type Event struct {
	Path    string
	Data    []byte
	Deleted bool
}

// Decode unmarshals the new value of the node.
func (e Event) Decode(v any) error {
	return msgpack.Unmarshal(e.Data, v)
}

// Key returns the last segment of the event path.
func (e Event) Key() string {
	if i := strings.LastIndexByte(e.Path, '/'); i >= 0 {
		return e.Path[i+1:]
	}
	return e.Path
}

// Rel returns the event path relative to prefix.
func (e Event) Rel(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	return strings.TrimPrefix(strings.TrimPrefix(e.Path, prefix), "/")
}

type watcher struct {
	prefix string
	ch     chan Event
}

type feed struct {
	watchers map[*watcher]struct{}
	closed   bool
	mu       sync.Mutex
}

func newFeed() *feed {
	return &feed{watchers: make(map[*watcher]struct{})}
}

func (f *feed) subscribe(prefix string) (<-chan Event, func()) {
	w := &watcher{prefix: prefix, ch: make(chan Event, watcherBuffer)}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(w.ch)
		return w.ch, func() {}
	}
	f.watchers[w] = struct{}{}

	var once sync.Once
	return w.ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.watchers[w]; ok {
				delete(f.watchers, w)
				close(w.ch)
			}
		})
	}
}

func (f *feed) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for w := range f.watchers {
		for _, e := range events {
			if !matches(w.prefix, e.Path) {
				continue
			}
			select {
			case w.ch <- e:
				continue
			default:
			}
			// A watcher that fell behind is closed rather than left with a
			// gap; its owner rereads and watches again.
			slog.Warn("closing lagging tree watcher", "prefix", w.prefix, "path", e.Path)
			delete(f.watchers, w)
			close(w.ch)
			break
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for w := range f.watchers {
		close(w.ch)
		delete(f.watchers, w)
	}
}

func matches(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
