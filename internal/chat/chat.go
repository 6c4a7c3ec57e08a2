// Package chat implements the chat request handshake and two-party
// conversations on top of the storage tree.
package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/storage"
)

const (
	DefaultTypingIdle = 2 * time.Second
	MaxMessageLength  = 4000
	startedText       = "Chat started"
	feedBuffer        = 64
)

var (
	ErrRequestAccept  = errs.NewFailedPreconditionError("chat request could not be accepted")
	ErrNotParticipant = errs.NewPermissionDeniedError("not a participant of this conversation")
	errNoConversation = errs.NewNotFoundError("conversation not found")
)

// Store is the subset of the storage tree the chat service works with.
type Store interface {
	Update(fn func(tx *storage.Tx) error) error
	View(fn func(tx *storage.Tx) error) error
	ApplyBatch(writes []storage.Write) error
	Watch(prefix string) (<-chan storage.Event, func())
}

type Config struct {
	// TypingIdle is how long a typing flag stays set after the last update.
	TypingIdle time.Duration
}

type typingKey struct {
	conversationID string
	userID         string
}

type Service struct {
	store      Store
	typingIdle time.Duration
	now        func() time.Time

	typing   map[typingKey]*time.Timer
	typingMu sync.Mutex
}

func NewService(store Store, config Config) *Service {
	if config.TypingIdle <= 0 {
		config.TypingIdle = DefaultTypingIdle
	}
	return &Service{
		store:      store,
		typingIdle: config.TypingIdle,
		now:        time.Now,
		typing:     make(map[typingKey]*time.Timer),
	}
}

// Close stops pending typing timers and clears their flags.
func (s *Service) Close() {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	for key, t := range s.typing {
		t.Stop()
		delete(s.typing, key)
		if err := s.store.Update(func(tx *storage.Tx) error {
			return tx.Delete(storage.TypingPath(key.conversationID, key.userID))
		}); err != nil {
			slog.Error("failed to clear typing flag", "conversation_id", key.conversationID, "user_id", key.userID, "error", err)
		}
	}
}

// forward decodes storage events into values until ctx is done or the feed
// is closed. initial values are sent first.
func forward[T any](ctx context.Context, events <-chan storage.Event, cancel func(), initial []T, convert func(storage.Event) (T, bool)) <-chan T {
	out := make(chan T, feedBuffer)
	go func() {
		defer close(out)
		defer cancel()

		for _, v := range initial {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				v, ok := convert(e)
				if !ok {
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
