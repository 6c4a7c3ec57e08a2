package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"jobchat/internal/content"
	"jobchat/internal/errs"
	"jobchat/internal/metrics"
	"jobchat/internal/models"
	"jobchat/internal/storage"
)

// CreateConversation opens a conversation between a and b and returns its id.
func (s *Service) CreateConversation(ctx context.Context, a, b models.UserSummary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var conv models.Conversation
	err := s.store.Update(func(tx *storage.Tx) error {
		var err error
		conv, err = s.createConversation(tx, a, b, startedText)
		return err
	})
	if err != nil {
		slog.Error("failed to create conversation", "users", []string{a.ID, b.ID}, "error", err)
		return "", err
	}
	return conv.ID, nil
}

// createConversation writes the conversation record and both index
// projections within tx.
func (s *Service) createConversation(tx *storage.Tx, a, b models.UserSummary, seed string) (models.Conversation, error) {
	if a.ID == "" || b.ID == "" {
		return models.Conversation{}, errs.NewInvalidArgumentError("participants", "both participants are required")
	}
	if a.ID == b.ID {
		return models.Conversation{}, errs.NewInvalidArgumentError("participants", "participants must be distinct")
	}

	id, err := storage.NewKey()
	if err != nil {
		return models.Conversation{}, err
	}
	now := s.now().UnixMilli()
	conv := models.Conversation{
		ID: id,
		Participants: map[string]models.UserSummary{
			a.ID: a,
			b.ID: b,
		},
		LastMessage: models.LastMessage{Text: seed, Timestamp: now},
		CreatedAt:   now,
	}

	writes := []storage.Write{
		{Path: storage.ConversationPath(id), Value: conv},
		{Path: storage.UserConversationPath(a.ID, id), Value: models.ConversationIndex{ConversationID: id, Other: b, LastMessage: conv.LastMessage}},
		{Path: storage.UserConversationPath(b.ID, id), Value: models.ConversationIndex{ConversationID: id, Other: a, LastMessage: conv.LastMessage}},
	}
	if err := tx.Apply(writes); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// participantConversation loads conversationID and checks that userID takes
// part in it.
func participantConversation(tx *storage.Tx, conversationID, userID string) (models.Conversation, error) {
	var conv models.Conversation
	if conversationID == "" {
		return conv, errNoConversation
	}
	if err := tx.Get(storage.ConversationPath(conversationID), &conv); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return conv, errNoConversation
		}
		return conv, err
	}
	if !conv.HasParticipant(userID) {
		return conv, ErrNotParticipant
	}
	return conv, nil
}

// Conversation returns conversationID if userID takes part in it.
func (s *Service) Conversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return models.Conversation{}, err
	}
	var conv models.Conversation
	err := s.store.View(func(tx *storage.Tx) error {
		var err error
		conv, err = participantConversation(tx, conversationID, userID)
		return err
	})
	return conv, err
}

// SendMessage appends text to the conversation. Text that is empty after
// trimming is ignored and reported with ok == false. The message, the
// conversation's last message and both index projections commit together.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, text string) (msg models.Message, ok bool, err error) {
	text, err = content.Text(text, MaxMessageLength)
	if err != nil {
		return models.Message{}, false, errs.NewInvalidArgumentError("text", err.Error())
	}
	if text == "" {
		return models.Message{}, false, nil
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, false, err
	}

	key := typingKey{conversationID: conversationID, userID: senderID}
	s.typingMu.Lock()
	pending := s.typing[key]
	s.typingMu.Unlock()

	err = s.store.Update(func(tx *storage.Tx) error {
		conv, err := participantConversation(tx, conversationID, senderID)
		if err != nil {
			return err
		}

		id, err := storage.NewKey()
		if err != nil {
			return err
		}
		sender := conv.Participants[senderID]
		msg = models.Message{
			ID:             id,
			ConversationID: conversationID,
			SenderID:       senderID,
			Text:           text,
			Timestamp:      s.now().UnixMilli(),
			SenderName:     sender.DisplayName,
			SenderAvatar:   sender.AvatarURL,
		}
		conv.LastMessage = models.LastMessage{Text: msg.Text, Timestamp: msg.Timestamp}

		writes := []storage.Write{
			{Path: storage.Join(storage.MessagesPath(conversationID), id), Value: msg},
			{Path: storage.ConversationPath(conversationID), Value: conv},
			{Path: storage.TypingPath(conversationID, senderID)},
		}
		for uid := range conv.Participants {
			writes = append(writes, storage.Write{
				Path: storage.UserConversationPath(uid, conversationID),
				Value: models.ConversationIndex{
					ConversationID: conversationID,
					Other:          otherParticipant(conv, uid),
					LastMessage:    conv.LastMessage,
				},
			})
		}
		return tx.Apply(writes)
	})
	if err != nil {
		if k := errs.KindOf(err); k != errs.KindNotFound && k != errs.KindPermissionDenied {
			slog.Error("failed to send message", "conversation_id", conversationID, "user_id", senderID, "error", err)
		}
		return models.Message{}, false, err
	}

	// A flag set after the commit keeps its own timer.
	s.stopTypingTimer(key, pending)
	metrics.IncChatEvent("message_sent")
	return msg, true, nil
}

func otherParticipant(conv models.Conversation, userID string) models.UserSummary {
	for id, p := range conv.Participants {
		if id != userID {
			return p
		}
	}
	return models.UserSummary{}
}

// Messages returns the conversation log ordered by timestamp.
func (s *Service) Messages(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []models.Message
	err := s.store.View(func(tx *storage.Tx) error {
		if _, err := participantConversation(tx, conversationID, userID); err != nil {
			return err
		}
		children, err := storage.ListChildren[models.Message](tx, storage.MessagesPath(conversationID))
		if err != nil {
			return err
		}
		messages = make([]models.Message, 0, len(children))
		for _, c := range children {
			messages = append(messages, c.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp < messages[j].Timestamp
	})
	return messages, nil
}

// Conversations lists userID's conversations, most recent activity first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]models.ConversationIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var children []storage.Child[models.ConversationIndex]
	err := s.store.View(func(tx *storage.Tx) error {
		var err error
		children, err = storage.ListChildren[models.ConversationIndex](tx, storage.UserConversationsPath(userID))
		return err
	})
	if err != nil {
		slog.Error("failed to list conversations", "user_id", userID, "error", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]models.ConversationIndex, 0, len(children))
	for _, c := range children {
		out = append(out, c.Value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.Timestamp > out[j].LastMessage.Timestamp
	})
	return out, nil
}

// ObserveMessages returns the current log of the conversation and a channel
// of messages appended after it. The channel is closed when ctx is done.
func (s *Service) ObserveMessages(ctx context.Context, conversationID, userID string) ([]models.Message, <-chan models.Message, error) {
	events, cancel := s.store.Watch(storage.MessagesPath(conversationID))

	history, err := s.Messages(ctx, conversationID, userID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	known := make(map[string]struct{}, len(history))
	for _, m := range history {
		known[m.ID] = struct{}{}
	}

	parent := storage.MessagesPath(conversationID)
	ch := forward(ctx, events, cancel, nil, func(e storage.Event) (models.Message, bool) {
		if e.Deleted || strings.Contains(e.Rel(parent), "/") {
			return models.Message{}, false
		}
		if _, ok := known[e.Key()]; ok {
			return models.Message{}, false
		}
		var m models.Message
		if err := e.Decode(&m); err != nil {
			slog.Error("failed to decode message", "path", e.Path, "error", err)
			return models.Message{}, false
		}
		return m, true
	})
	return history, ch, nil
}

// ObserveTyping streams typing flag changes of the conversation.
func (s *Service) ObserveTyping(ctx context.Context, conversationID, userID string) (<-chan models.TypingState, error) {
	parent := storage.TypingRootPath(conversationID)
	events, cancel := s.store.Watch(parent)

	if _, err := s.Conversation(ctx, conversationID, userID); err != nil {
		cancel()
		return nil, err
	}

	return forward(ctx, events, cancel, nil, func(e storage.Event) (models.TypingState, bool) {
		uid := e.Rel(parent)
		if uid == "" || strings.Contains(uid, "/") {
			return models.TypingState{}, false
		}
		state := models.TypingState{ConversationID: conversationID, UserID: uid}
		if !e.Deleted {
			if err := e.Decode(&state.Typing); err != nil {
				slog.Error("failed to decode typing flag", "path", e.Path, "error", err)
				return models.TypingState{}, false
			}
		}
		return state, true
	}), nil
}
