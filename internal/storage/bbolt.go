package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobchat/internal/models"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketTree        = []byte("tree")
	bucketCredentials = []byte("credentials")
	bucketTokens      = []byte("tokens")
	bucketFiles       = []byte("files")
)

// ErrInvalidPath is returned for empty paths or paths with empty segments.
var ErrInvalidPath = errors.New("invalid path")

// BboltStorage is a realtime key-value tree on top of bbolt.
// Every node is addressed by a slash separated path and holds one
// msgpack encoded value. Writes are published to watchers after commit.
type BboltStorage struct {
	db   *bbolt.DB
	feed *feed
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTree, bucketCredentials, bucketTokens, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, feed: newFeed()}, nil
}

func (s *BboltStorage) Close() error {
	s.feed.close()
	return s.db.Close()
}

// Write is a single entry of a multi-path update. A nil Value deletes
// the path and everything below it.
type Write struct {
	Path  string
	Value any
}

// Tx is a read or read-write transaction over the tree.
type Tx struct {
	bucket *bbolt.Bucket
	events []Event
}

// Update runs fn in a read-write transaction. Either all writes made by fn
// are committed or none are. Watchers are notified after commit.
func (s *BboltStorage) Update(fn func(tx *Tx) error) error {
	var events []Event
	err := s.db.Update(func(btx *bbolt.Tx) error {
		tx := &Tx{bucket: btx.Bucket(bucketTree)}
		if err := fn(tx); err != nil {
			return err
		}
		events = tx.events
		return nil
	})
	if err != nil {
		return err
	}
	s.feed.publish(events)
	return nil
}

// View runs fn in a read-only transaction.
func (s *BboltStorage) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&Tx{bucket: btx.Bucket(bucketTree)})
	})
}

// ApplyBatch writes all entries atomically.
func (s *BboltStorage) ApplyBatch(writes []Write) error {
	return s.Update(func(tx *Tx) error {
		return tx.Apply(writes)
	})
}

func (s *BboltStorage) Get(path string, v any) error {
	return s.View(func(tx *Tx) error {
		return tx.Get(path, v)
	})
}

func (s *BboltStorage) Set(path string, v any) error {
	return s.Update(func(tx *Tx) error {
		return tx.Set(path, v)
	})
}

func (s *BboltStorage) Delete(path string) error {
	return s.Update(func(tx *Tx) error {
		return tx.Delete(path)
	})
}

// Push stores v under a newly generated child key of parent and returns
// that key. Keys sort in creation order.
func (s *BboltStorage) Push(parent string, v any) (string, error) {
	var key string
	err := s.Update(func(tx *Tx) error {
		var err error
		key, err = tx.Push(parent, v)
		return err
	})
	return key, err
}

// Watch subscribes to changes of prefix and every path below it.
// The returned cancel func must be called to release the subscription.
// The channel is also closed when the watcher falls too far behind; no
// event is ever skipped silently.
func (s *BboltStorage) Watch(prefix string) (<-chan Event, func()) {
	return s.feed.subscribe(strings.Trim(prefix, "/"))
}

func (tx *Tx) Get(path string, v any) error {
	key, err := cleanPath(path)
	if err != nil {
		return err
	}
	data := tx.bucket.Get(key)
	if data == nil {
		return fmt.Errorf("%s: %w", path, models.ErrNotFound)
	}
	return msgpack.Unmarshal(data, v)
}

func (tx *Tx) Exists(path string) bool {
	key, err := cleanPath(path)
	if err != nil {
		return false
	}
	return tx.bucket.Get(key) != nil
}

func (tx *Tx) Set(path string, v any) error {
	if v == nil {
		return tx.Delete(path)
	}
	key, err := cleanPath(path)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	if err := tx.bucket.Put(key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", path, err)
	}
	tx.events = append(tx.events, Event{Path: string(key), Data: data})
	return nil
}

// Delete removes path and all of its descendants.
func (tx *Tx) Delete(path string) error {
	key, err := cleanPath(path)
	if err != nil {
		return err
	}

	var keys [][]byte
	if tx.bucket.Get(key) != nil {
		keys = append(keys, key)
	}
	prefix := append(append([]byte{}, key...), '/')
	c := tx.bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte{}, k...))
	}

	for _, k := range keys {
		if err := tx.bucket.Delete(k); err != nil {
			return fmt.Errorf("failed to delete %s: %w", k, err)
		}
		tx.events = append(tx.events, Event{Path: string(k), Deleted: true})
	}
	return nil
}

func (tx *Tx) Push(parent string, v any) (string, error) {
	key, err := NewKey()
	if err != nil {
		return "", err
	}
	if err := tx.Set(Join(parent, key), v); err != nil {
		return "", err
	}
	return key, nil
}

// Apply executes writes in order inside the transaction.
func (tx *Tx) Apply(writes []Write) error {
	for _, w := range writes {
		if err := tx.Set(w.Path, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// Children calls fn for every direct child of parent in key order.
// data is only valid until fn returns.
func (tx *Tx) Children(parent string, fn func(key string, data []byte) error) error {
	key, err := cleanPath(parent)
	if err != nil {
		return err
	}
	prefix := append(key, '/')
	c := tx.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		rest := k[len(prefix):]
		if len(rest) == 0 || bytes.IndexByte(rest, '/') >= 0 {
			continue
		}
		if err := fn(string(rest), v); err != nil {
			return err
		}
	}
	return nil
}

// Child is a decoded direct child of a tree node.
type Child[T any] struct {
	Key   string
	Value T
}

// ListChildren decodes all direct children of parent.
func ListChildren[T any](tx *Tx, parent string) ([]Child[T], error) {
	var out []Child[T]
	err := tx.Children(parent, func(key string, data []byte) error {
		var v T
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to unmarshal %s/%s: %w", parent, key, err)
		}
		out = append(out, Child[T]{Key: key, Value: v})
		return nil
	})
	return out, err
}

// List is ListChildren in its own read-only transaction.
func List[T any](s *BboltStorage, parent string) ([]Child[T], error) {
	var out []Child[T]
	err := s.View(func(tx *Tx) error {
		var err error
		out, err = ListChildren[T](tx, parent)
		return err
	})
	return out, err
}

// NewKey generates a push key. Keys generated by one process sort in
// creation order.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return id.String(), nil
}

// Join builds a tree path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

func cleanPath(path string) ([]byte, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return []byte(path), nil
}
