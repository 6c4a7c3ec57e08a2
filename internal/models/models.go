package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// User represents a directory record mirrored from an authenticated account.
type User struct {
	ID          string `json:"id" msgpack:"id"`
	Handle      string `json:"handle" msgpack:"handle"`
	DisplayName string `json:"displayName" msgpack:"displayName"`
	Email       string `json:"email" msgpack:"email"`
	AvatarURL   string `json:"avatarUrl" msgpack:"avatarUrl"`
	LastSeen    int64  `json:"lastSeen" msgpack:"lastSeen"` // Unix milliseconds
}

// Summary returns the denormalized copy of the user stored inside
// requests and conversations.
func (u User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
}

type UserSummary struct {
	ID          string `json:"id" msgpack:"id"`
	Handle      string `json:"handle,omitempty" msgpack:"handle"`
	DisplayName string `json:"displayName" msgpack:"displayName"`
	Email       string `json:"email,omitempty" msgpack:"email"`
	AvatarURL   string `json:"avatarUrl,omitempty" msgpack:"avatarUrl"`
}

// Account is what the authentication layer knows about a signed in user.
type Account struct {
	ID          string
	DisplayName string
	Email       string
	AvatarURL   string
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// ChatRequest is stored twice: under the recipient with From set and under
// the sender with To set.
type ChatRequest struct {
	From      *UserSummary  `json:"from,omitempty" msgpack:"from,omitempty"`
	To        *UserSummary  `json:"to,omitempty" msgpack:"to,omitempty"`
	Status    RequestStatus `json:"status" msgpack:"status"`
	CreatedAt int64         `json:"createdAt" msgpack:"createdAt"`
	Seen      bool          `json:"seen,omitempty" msgpack:"seen"`
}

// PendingRequest is a ChatRequest together with the id of the other party,
// which is the key it is stored under.
type PendingRequest struct {
	UserID string `json:"userId"`
	ChatRequest
}

type LastMessage struct {
	Text      string `json:"text" msgpack:"text"`
	Timestamp int64  `json:"timestamp" msgpack:"timestamp"`
}

// Conversation represents a two-party chat thread.
type Conversation struct {
	ID           string                 `json:"id" msgpack:"id"`
	Participants map[string]UserSummary `json:"participants" msgpack:"participants"`
	LastMessage  LastMessage            `json:"lastMessage" msgpack:"lastMessage"`
	CreatedAt    int64                  `json:"createdAt" msgpack:"createdAt"`
}

// HasParticipant reports whether userID takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participants[userID]
	return ok
}

// Message represents a chat message.
type Message struct {
	ID             string `json:"id" msgpack:"id"`
	ConversationID string `json:"conversationId" msgpack:"conversationId"`
	SenderID       string `json:"senderId" msgpack:"senderId"`
	Text           string `json:"text" msgpack:"text"`
	Timestamp      int64  `json:"timestamp" msgpack:"timestamp"` // Unix milliseconds
	SenderName     string `json:"senderName" msgpack:"senderName"`
	SenderAvatar   string `json:"senderAvatar,omitempty" msgpack:"senderAvatar"`
}

// ConversationIndex is the per-user projection of a conversation.
type ConversationIndex struct {
	ConversationID string      `json:"conversationId" msgpack:"conversationId"`
	Other          UserSummary `json:"other" msgpack:"other"`
	LastMessage    LastMessage `json:"lastMessage" msgpack:"lastMessage"`
}

type TypingState struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// ClientMessage represents a message sent from the client over the live feed.
type ClientMessage struct {
	Type           ClientMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	Text           string            `json:"text,omitempty"`
	Typing         bool              `json:"typing,omitempty"`
	FromUserID     string            `json:"fromUserId,omitempty"`
}

// ServerMessage is sent to live clients. Full marks Messages as the whole
// conversation log, replacing what the client holds.
type ServerMessage struct {
	Type           ServerMessageType `json:"type"`
	ConversationID string            `json:"conversationId,omitempty"`
	Messages       []Message         `json:"messages,omitempty"`
	Full           bool              `json:"full,omitempty"`
	Typing         *TypingState      `json:"typing,omitempty"`
	Request        *PendingRequest   `json:"request,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypeSend        ClientMessageType = "send"
	ClientMessageTypeTyping      ClientMessageType = "typing"
	ClientMessageTypeView        ClientMessageType = "view"
	ClientMessageTypeDismiss     ClientMessageType = "dismiss"
)

type ServerMessageType string

const (
	ServerMessageTypeMessages       ServerMessageType = "messages"
	ServerMessageTypeTyping         ServerMessageType = "typing"
	ServerMessageTypeChatRequest    ServerMessageType = "chat_request"
	ServerMessageTypeRequestRemoved ServerMessageType = "request_removed"
	ServerMessageTypeError          ServerMessageType = "error"
)

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PushSubscription is a browser push endpoint registered by a user.
type PushSubscription struct {
	Endpoint  string   `json:"endpoint" msgpack:"endpoint"`
	Keys      PushKeys `json:"keys" msgpack:"keys"`
	CreatedAt int64    `json:"createdAt,omitempty" msgpack:"createdAt"`
}

type PushKeys struct {
	P256dh string `json:"p256dh" msgpack:"p256dh"`
	Auth   string `json:"auth" msgpack:"auth"`
}
