package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"jobchat/internal/errs"
	"jobchat/internal/models"
	"jobchat/internal/notify"
)

const outboxSize = 64

var ErrHubClosed = errs.NewUnavailableError("server is shutting down")

type ChatService interface {
	ObserveMessages(ctx context.Context, conversationID, userID string) ([]models.Message, <-chan models.Message, error)
	ObserveTyping(ctx context.Context, conversationID, userID string) (<-chan models.TypingState, error)
	SendMessage(ctx context.Context, conversationID, senderID, text string) (models.Message, bool, error)
	SetTyping(ctx context.Context, conversationID, userID string, typing bool) error
	AcceptRequest(ctx context.Context, current models.UserSummary, fromID string) (string, error)
}

type RequestRelay interface {
	SubscribeRequests(ctx context.Context, userID string, onAlert func(notify.Alert), onAction func(action string, req models.PendingRequest)) (*notify.Subscription, error)
}

type UserLookup interface {
	User(ctx context.Context, userID string) (models.User, error)
}

// Hub owns the live sessions of connected users.
type Hub struct {
	ctx   context.Context
	chat  ChatService
	relay RequestRelay
	users UserLookup

	sessions map[*Session]struct{}
	closed   bool
	mu       sync.Mutex
}

func NewHub(ctx context.Context, chat ChatService, relay RequestRelay, users UserLookup) *Hub {
	return &Hub{
		ctx:      ctx,
		chat:     chat,
		relay:    relay,
		users:    users,
		sessions: make(map[*Session]struct{}),
	}
}

// Join starts a session for userID. Pending chat requests are alerted to it
// right away.
func (h *Hub) Join(userID string) (*Session, error) {
	user, err := h.users.User(h.ctx, userID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(h.ctx)
	s := &Session{
		hub:    h,
		user:   user.Summary(),
		chat:   h.chat,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan models.ServerMessage, outboxSize),
		subs:   make(map[string]context.CancelFunc),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrHubClosed
	}
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	s.alerts, err = h.relay.SubscribeRequests(ctx, userID, s.alert, s.act)
	if err != nil {
		h.leave(s)
		cancel()
		return nil, err
	}
	return s, nil
}

func (h *Hub) leave(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
}

// Online reports the number of sessions userID has open.
func (h *Hub) Online(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.sessions {
		if s.user.ID == userID {
			n++
		}
	}
	return n
}

// Close ends every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Session relays conversation updates and request alerts to one connection.
type Session struct {
	hub    *Hub
	user   models.UserSummary
	chat   ChatService
	alerts *notify.Subscription

	ctx       context.Context
	cancel    context.CancelFunc
	out       chan models.ServerMessage
	closeOnce sync.Once
	wg        sync.WaitGroup

	// subs maps a subscribed conversation to the cancel of its feed.
	subs map[string]context.CancelFunc
	mu   sync.Mutex
}

func (s *Session) Outbox() <-chan models.ServerMessage { return s.out }

func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) Handle(ctx context.Context, msg models.ClientMessage) error {
	switch msg.Type {
	case models.ClientMessageTypeSubscribe:
		return s.subscribe(msg.ConversationID)
	case models.ClientMessageTypeUnsubscribe:
		s.unsubscribe(msg.ConversationID)
		return nil
	case models.ClientMessageTypeSend:
		_, _, err := s.chat.SendMessage(ctx, msg.ConversationID, s.user.ID, msg.Text)
		return err
	case models.ClientMessageTypeTyping:
		return s.chat.SetTyping(ctx, msg.ConversationID, s.user.ID, msg.Typing)
	case models.ClientMessageTypeView:
		return s.alerts.View(ctx, msg.FromUserID)
	case models.ClientMessageTypeDismiss:
		return s.alerts.Dismiss(ctx, msg.FromUserID)
	default:
		return errs.NewInvalidArgumentError("type", "unknown message type")
	}
}

func (s *Session) subscribe(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return ErrHubClosed
	}
	if _, ok := s.subs[conversationID]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	feed, err := s.observe(ctx, conversationID)
	if err != nil {
		cancel()
		return err
	}
	s.subs[conversationID] = cancel

	s.wg.Go(func() {
		s.follow(ctx, conversationID, feed)
	})
	return nil
}

// conversationFeed is one open observation of a conversation.
type conversationFeed struct {
	cancel   context.CancelFunc
	history  []models.Message
	messages <-chan models.Message
	typing   <-chan models.TypingState
}

func (s *Session) observe(ctx context.Context, conversationID string) (conversationFeed, error) {
	ctx, cancel := context.WithCancel(ctx)
	history, messages, err := s.chat.ObserveMessages(ctx, conversationID, s.user.ID)
	if err != nil {
		cancel()
		return conversationFeed{}, err
	}
	typing, err := s.chat.ObserveTyping(ctx, conversationID, s.user.ID)
	if err != nil {
		cancel()
		return conversationFeed{}, err
	}
	return conversationFeed{cancel: cancel, history: history, messages: messages, typing: typing}, nil
}

// follow relays feed until ctx is done. A feed that closes on its own fell
// behind the store; it is reopened and the full log is sent again.
func (s *Session) follow(ctx context.Context, conversationID string, feed conversationFeed) {
	for {
		lagged := s.forward(ctx, conversationID, feed)
		feed.cancel()
		if !lagged || ctx.Err() != nil {
			return
		}

		slog.Info("resyncing conversation feed", "user_id", s.user.ID, "conversation_id", conversationID)
		var err error
		feed, err = s.observe(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to reopen conversation feed", "user_id", s.user.ID, "conversation_id", conversationID, "error", err)
			s.unsubscribe(conversationID)
			s.send(models.ServerMessage{
				Type:           models.ServerMessageTypeError,
				ConversationID: conversationID,
				Error:          errs.MessageOf(err),
			})
			return
		}
	}
}

func (s *Session) unsubscribe(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.subs[conversationID]; ok {
		cancel()
		delete(s.subs, conversationID)
	}
}

// forward sends the history of feed followed by its updates. It reports
// whether it stopped because one of the feed channels closed.
func (s *Session) forward(ctx context.Context, conversationID string, feed conversationFeed) bool {
	if !s.send(models.ServerMessage{
		Type:           models.ServerMessageTypeMessages,
		ConversationID: conversationID,
		Messages:       feed.history,
		Full:           true,
	}) {
		return false
	}

	for {
		select {
		case m, ok := <-feed.messages:
			if !ok {
				return true
			}
			if !s.send(models.ServerMessage{
				Type:           models.ServerMessageTypeMessages,
				ConversationID: conversationID,
				Messages:       []models.Message{m},
			}) {
				return false
			}
		case state, ok := <-feed.typing:
			if !ok {
				return true
			}
			if state.UserID == s.user.ID {
				continue
			}
			if !s.send(models.ServerMessage{
				Type:           models.ServerMessageTypeTyping,
				ConversationID: conversationID,
				Typing:         &state,
			}) {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Session) alert(a notify.Alert) {
	msgType := models.ServerMessageTypeChatRequest
	if a.Removed {
		msgType = models.ServerMessageTypeRequestRemoved
	}
	req := a.Request
	s.send(models.ServerMessage{Type: msgType, Request: &req})
}

// act accepts a viewed request and subscribes the session to the new
// conversation.
func (s *Session) act(action string, req models.PendingRequest) {
	if action != notify.ActionAccept {
		return
	}
	s.wg.Go(func() {
		conversationID, err := s.chat.AcceptRequest(s.ctx, s.user, req.UserID)
		if err == nil {
			err = s.subscribe(conversationID)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("failed to open chat from request", "user_id", s.user.ID, "from", req.UserID, "error", err)
			s.send(models.ServerMessage{
				Type:           models.ServerMessageTypeError,
				ConversationID: conversationID,
				Error:          errs.MessageOf(err),
			})
		}
	})
}

func (s *Session) send(msg models.ServerMessage) bool {
	select {
	case s.out <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close stops every feed of the session and waits for them to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.alerts != nil {
			s.alerts.Close()
		}
		s.wg.Wait()
		s.hub.leave(s)
	})
}
