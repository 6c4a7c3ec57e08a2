package chat

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/models"
	"jobchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ann = models.UserSummary{ID: "u1", Handle: "ann_lee", DisplayName: "Ann Lee"}
	bob = models.UserSummary{ID: "u2", Handle: "bobsmith", DisplayName: "Bob Smith"}
	cat = models.UserSummary{ID: "u3", Handle: "cat", DisplayName: "Cat"}
)

type clock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestService(t *testing.T, idle time.Duration) (*Service, *storage.BboltStorage) {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)

	svc := NewService(store, Config{TypingIdle: idle})
	c := &clock{now: time.UnixMilli(1700000000000)}
	svc.now = c.Now

	t.Cleanup(func() {
		svc.Close()
		_ = store.Close()
	})
	return svc, store
}

func exists(t *testing.T, store *storage.BboltStorage, path string) bool {
	t.Helper()
	found := false
	require.NoError(t, store.View(func(tx *storage.Tx) error {
		found = tx.Exists(path)
		return nil
	}))
	return found
}

// afterUpdateStore runs fn once after the next committed Update when armed.
type afterUpdateStore struct {
	Store
	armed atomic.Bool
	fn    func()
}

func (s *afterUpdateStore) Update(fn func(tx *storage.Tx) error) error {
	err := s.Store.Update(fn)
	if err == nil && s.armed.CompareAndSwap(true, false) {
		s.fn()
	}
	return err
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("SendAndList", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))

		pending, err := svc.PendingRequests(ctx, bob.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, ann.ID, pending[0].UserID)
		assert.Equal(t, models.RequestStatusPending, pending[0].Status)
		assert.Equal(t, ann.DisplayName, pending[0].From.DisplayName)

		sent, err := svc.SentRequests(ctx, ann.ID)
		require.NoError(t, err)
		require.Len(t, sent, 1)
		assert.Equal(t, bob.ID, sent[0].UserID)
		assert.Equal(t, bob.Handle, sent[0].To.Handle)

		// Sending again overwrites.
		require.NoError(t, svc.SendRequest(ctx, ann, bob))
		pending, err = svc.PendingRequests(ctx, bob.ID)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("SendValidation", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		err := svc.SendRequest(ctx, ann, ann)
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
		err = svc.SendRequest(ctx, ann, models.UserSummary{})
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	})

	t.Run("Accept", func(t *testing.T) {
		svc, store := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))

		cid, err := svc.AcceptRequest(ctx, bob, ann.ID)
		require.NoError(t, err)
		require.NotEmpty(t, cid)

		assert.False(t, exists(t, store, storage.RequestPath(bob.ID, ann.ID)))
		assert.False(t, exists(t, store, storage.SentRequestPath(ann.ID, bob.ID)))

		conv, err := svc.Conversation(ctx, cid, ann.ID)
		require.NoError(t, err)
		require.Len(t, conv.Participants, 2)
		assert.True(t, conv.HasParticipant(ann.ID))
		assert.True(t, conv.HasParticipant(bob.ID))

		for _, u := range []models.UserSummary{ann, bob} {
			pending, err := svc.PendingRequests(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, pending)

			index, err := svc.Conversations(ctx, u.ID)
			require.NoError(t, err)
			require.Len(t, index, 1)
			assert.Equal(t, cid, index[0].ConversationID)
			assert.Equal(t, "Chat started", index[0].LastMessage.Text)
		}

		index, err := svc.Conversations(ctx, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, bob.ID, index[0].Other.ID)
	})

	t.Run("AcceptTwice", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))

		_, err := svc.AcceptRequest(ctx, bob, ann.ID)
		require.NoError(t, err)
		_, err = svc.AcceptRequest(ctx, bob, ann.ID)
		require.ErrorIs(t, err, ErrRequestAccept)

		index, err := svc.Conversations(ctx, bob.ID)
		require.NoError(t, err)
		assert.Len(t, index, 1)
	})

	t.Run("ConcurrentAccept", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))

		var wg sync.WaitGroup
		results := make([]error, 8)
		for i := range results {
			wg.Go(func() {
				_, results[i] = svc.AcceptRequest(ctx, bob, ann.ID)
			})
		}
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrRequestAccept)
		}
		assert.Equal(t, 1, succeeded)

		index, err := svc.Conversations(ctx, ann.ID)
		require.NoError(t, err)
		assert.Len(t, index, 1)
	})

	t.Run("AcceptMalformed", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		_, err := svc.AcceptRequest(ctx, bob, "")
		require.ErrorIs(t, err, ErrRequestAccept)
		assert.Equal(t, errs.KindFailedPrecondition, errs.KindOf(err))

		_, err = svc.AcceptRequest(ctx, bob, cat.ID)
		require.ErrorIs(t, err, ErrRequestAccept)
	})

	t.Run("Reject", func(t *testing.T) {
		svc, store := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))
		require.NoError(t, svc.RejectRequest(ctx, bob.ID, ann.ID))

		assert.False(t, exists(t, store, storage.RequestPath(bob.ID, ann.ID)))
		assert.False(t, exists(t, store, storage.SentRequestPath(ann.ID, bob.ID)))

		for _, u := range []models.UserSummary{ann, bob} {
			index, err := svc.Conversations(ctx, u.ID)
			require.NoError(t, err)
			assert.Empty(t, index)
		}
	})

	t.Run("MarkSeen", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))
		require.NoError(t, svc.MarkRequestSeen(ctx, bob.ID, ann.ID))

		pending, err := svc.PendingRequests(ctx, bob.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.True(t, pending[0].Seen)

		err = svc.MarkRequestSeen(ctx, bob.ID, cat.ID)
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	})

	t.Run("Observe", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		require.NoError(t, svc.SendRequest(ctx, ann, bob))

		obsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		events, err := svc.ObserveRequests(obsCtx, bob.ID)
		require.NoError(t, err)

		e := receiveEvent(t, events)
		assert.Equal(t, ann.ID, e.Request.UserID)
		assert.False(t, e.Removed)

		require.NoError(t, svc.SendRequest(ctx, cat, bob))
		e = receiveEvent(t, events)
		assert.Equal(t, cat.ID, e.Request.UserID)
		assert.Equal(t, models.RequestStatusPending, e.Request.Status)

		require.NoError(t, svc.RejectRequest(ctx, bob.ID, cat.ID))
		e = receiveEvent(t, events)
		assert.Equal(t, cat.ID, e.Request.UserID)
		assert.True(t, e.Removed)

		cancel()
		require.Eventually(t, func() bool {
			_, ok := <-events
			return !ok
		}, time.Second, 10*time.Millisecond)
	})
}

func receiveEvent[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	var zero T
	return zero
}

func startConversation(t *testing.T, svc *Service) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.SendRequest(ctx, ann, bob))
	cid, err := svc.AcceptRequest(ctx, bob, ann.ID)
	require.NoError(t, err)
	return cid
}

func TestConversation(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateValidation", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		_, err := svc.CreateConversation(ctx, ann, ann)
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
		_, err = svc.CreateConversation(ctx, ann, models.UserSummary{})
		assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
	})

	t.Run("SendUpdatesProjections", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)

		_, ok, err := svc.SendMessage(ctx, cid, ann.ID, "Hello")
		require.NoError(t, err)
		require.True(t, ok)
		last, ok, err := svc.SendMessage(ctx, cid, bob.ID, "  Hi Ann  ")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Hi Ann", last.Text)
		assert.Equal(t, "Bob Smith", last.SenderName)

		conv, err := svc.Conversation(ctx, cid, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LastMessage{Text: last.Text, Timestamp: last.Timestamp}, conv.LastMessage)

		for _, u := range []models.UserSummary{ann, bob} {
			index, err := svc.Conversations(ctx, u.ID)
			require.NoError(t, err)
			require.Len(t, index, 1)
			assert.Equal(t, conv.LastMessage, index[0].LastMessage)
		}

		messages, err := svc.Messages(ctx, cid, bob.ID)
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "Hello", messages[0].Text)
		assert.Equal(t, ann.ID, messages[0].SenderID)
		assert.Less(t, messages[0].Timestamp, messages[1].Timestamp)
	})

	t.Run("WhitespaceIsNoop", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)
		before, err := svc.Conversation(ctx, cid, ann.ID)
		require.NoError(t, err)

		_, ok, err := svc.SendMessage(ctx, cid, ann.ID, " \n\t ")
		require.NoError(t, err)
		assert.False(t, ok)

		messages, err := svc.Messages(ctx, cid, ann.ID)
		require.NoError(t, err)
		assert.Empty(t, messages)
		after, err := svc.Conversation(ctx, cid, ann.ID)
		require.NoError(t, err)
		assert.Equal(t, before.LastMessage, after.LastMessage)
	})

	t.Run("TextStoredVerbatim", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)

		for _, text := range []string{"it's & <3", "Tom & Jerry", `say "hi" <b>now</b>`, "O'Brien"} {
			msg, ok, err := svc.SendMessage(ctx, cid, ann.ID, text)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, text, msg.Text)

			messages, err := svc.Messages(ctx, cid, bob.ID)
			require.NoError(t, err)
			assert.Equal(t, text, messages[len(messages)-1].Text)

			for _, u := range []models.UserSummary{ann, bob} {
				index, err := svc.Conversations(ctx, u.ID)
				require.NoError(t, err)
				require.Len(t, index, 1)
				assert.Equal(t, text, index[0].LastMessage.Text)
			}
		}
	})

	t.Run("TextValidation", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)

		for _, text := range []string{strings.Repeat("x", MaxMessageLength+1), "bad \xff byte"} {
			_, ok, err := svc.SendMessage(ctx, cid, ann.ID, text)
			assert.False(t, ok)
			assert.Equal(t, errs.KindInvalidArgument, errs.KindOf(err))
		}
		messages, err := svc.Messages(ctx, cid, ann.ID)
		require.NoError(t, err)
		assert.Empty(t, messages)
	})

	t.Run("Outsiders", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)

		_, _, err := svc.SendMessage(ctx, cid, cat.ID, "let me in")
		require.ErrorIs(t, err, ErrNotParticipant)
		_, err = svc.Messages(ctx, cid, cat.ID)
		require.ErrorIs(t, err, ErrNotParticipant)
		_, _, err = svc.SendMessage(ctx, "missing", ann.ID, "hello")
		assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
	})

	t.Run("ConversationsNewestFirst", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		first := startConversation(t, svc)
		second, err := svc.CreateConversation(ctx, ann, cat)
		require.NoError(t, err)

		_, _, err = svc.SendMessage(ctx, first, ann.ID, "bump")
		require.NoError(t, err)

		index, err := svc.Conversations(ctx, ann.ID)
		require.NoError(t, err)
		require.Len(t, index, 2)
		assert.Equal(t, first, index[0].ConversationID)
		assert.Equal(t, second, index[1].ConversationID)
	})

	t.Run("ObserveMessages", func(t *testing.T) {
		svc, _ := newTestService(t, time.Second)
		cid := startConversation(t, svc)
		_, _, err := svc.SendMessage(ctx, cid, bob.ID, "earlier")
		require.NoError(t, err)

		obsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		history, live, err := svc.ObserveMessages(obsCtx, cid, bob.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)

		_, _, err = svc.SendMessage(ctx, cid, ann.ID, "Hello")
		require.NoError(t, err)

		m := receiveEvent(t, live)
		assert.Equal(t, "Hello", m.Text)
		assert.Equal(t, ann.ID, m.SenderID)

		_, _, err = svc.ObserveMessages(obsCtx, cid, cat.ID)
		require.ErrorIs(t, err, ErrNotParticipant)
	})
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	const idle = 100 * time.Millisecond

	t.Run("ClearsAfterIdle", func(t *testing.T) {
		svc, store := newTestService(t, idle)
		cid := startConversation(t, svc)
		path := storage.TypingPath(cid, ann.ID)

		obsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		states, err := svc.ObserveTyping(obsCtx, cid, bob.ID)
		require.NoError(t, err)

		start := time.Now()
		require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))
		assert.True(t, exists(t, store, path))

		s := receiveEvent(t, states)
		assert.Equal(t, ann.ID, s.UserID)
		assert.True(t, s.Typing)

		s = receiveEvent(t, states)
		assert.False(t, s.Typing)
		assert.GreaterOrEqual(t, time.Since(start), idle)
		assert.False(t, exists(t, store, path))
	})

	t.Run("EachCallRestartsWindow", func(t *testing.T) {
		svc, store := newTestService(t, idle)
		cid := startConversation(t, svc)
		path := storage.TypingPath(cid, ann.ID)

		var last time.Time
		for range 4 {
			last = time.Now()
			require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))
			time.Sleep(idle / 2)
		}
		assert.True(t, exists(t, store, path))

		require.Eventually(t, func() bool {
			return !exists(t, store, path)
		}, 2*time.Second, 5*time.Millisecond)
		assert.GreaterOrEqual(t, time.Since(last), idle)
	})

	t.Run("SendClearsImmediately", func(t *testing.T) {
		svc, store := newTestService(t, time.Hour)
		cid := startConversation(t, svc)
		path := storage.TypingPath(cid, ann.ID)

		require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))
		_, _, err := svc.SendMessage(ctx, cid, ann.ID, "done typing")
		require.NoError(t, err)
		assert.False(t, exists(t, store, path))

		svc.typingMu.Lock()
		assert.Empty(t, svc.typing)
		svc.typingMu.Unlock()
	})

	t.Run("TypingRightAfterSendKeepsTimer", func(t *testing.T) {
		svc, store := newTestService(t, idle)
		cid := startConversation(t, svc)
		path := storage.TypingPath(cid, ann.ID)

		hooked := &afterUpdateStore{Store: svc.store}
		svc.store = hooked
		require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))

		hooked.fn = func() {
			assert.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))
		}
		hooked.armed.Store(true)
		_, ok, err := svc.SendMessage(ctx, cid, ann.ID, "hi")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, exists(t, store, path))

		require.Eventually(t, func() bool {
			return !exists(t, store, path)
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("ExplicitClear", func(t *testing.T) {
		svc, store := newTestService(t, time.Hour)
		cid := startConversation(t, svc)

		require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, true))
		require.NoError(t, svc.SetTyping(ctx, cid, ann.ID, false))
		assert.False(t, exists(t, store, storage.TypingPath(cid, ann.ID)))
	})

	t.Run("Outsider", func(t *testing.T) {
		svc, _ := newTestService(t, idle)
		cid := startConversation(t, svc)
		err := svc.SetTyping(ctx, cid, cat.ID, true)
		require.ErrorIs(t, err, ErrNotParticipant)
	})
}
