package chat

import (
	"context"
	"log/slog"
	"time"

	"jobchat/internal/storage"
)

// SetTyping sets or clears the typing flag of userID in the conversation.
// A set flag is cleared automatically once no update arrived for the idle
// window; every call restarts that window.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		return err
	}

	key := typingKey{conversationID: conversationID, userID: userID}
	path := storage.TypingPath(conversationID, userID)

	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	if !typing {
		s.stopTimerLocked(key)
		return s.store.Update(func(tx *storage.Tx) error {
			return tx.Delete(path)
		})
	}

	if err := s.store.Update(func(tx *storage.Tx) error {
		return tx.Set(path, true)
	}); err != nil {
		slog.Error("failed to set typing flag", "conversation_id", conversationID, "user_id", userID, "error", err)
		return err
	}

	s.stopTimerLocked(key)
	var t *time.Timer
	t = time.AfterFunc(s.typingIdle, func() {
		s.typingMu.Lock()
		defer s.typingMu.Unlock()
		if s.typing[key] != t {
			return
		}
		delete(s.typing, key)
		if err := s.store.Update(func(tx *storage.Tx) error {
			return tx.Delete(path)
		}); err != nil {
			slog.Error("failed to clear typing flag", "conversation_id", conversationID, "user_id", userID, "error", err)
		}
	})
	s.typing[key] = t
	return nil
}

// stopTypingTimer stops the timer of key if it is still t.
func (s *Service) stopTypingTimer(key typingKey, t *time.Timer) {
	if t == nil {
		return
	}
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	if s.typing[key] == t {
		s.stopTimerLocked(key)
	}
}

func (s *Service) stopTimerLocked(key typingKey) {
	if t, ok := s.typing[key]; ok {
		t.Stop()
		delete(s.typing, key)
	}
}
