package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"jobchat/internal/errs"
	"jobchat/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// session is the server side state of one live connection.
type session interface {
	Outbox() <-chan models.ServerMessage
	Done() <-chan struct{}
	Handle(ctx context.Context, msg models.ClientMessage) error
	Close()
}

type Connection struct {
	ws         wsConnection
	session    session
	userID     string
	fromClient chan models.ClientMessage
	errorCh    chan error
}

func NewConnection(
	session session,
	ws wsConnection,
	userID string,
) *Connection {
	return &Connection{
		ws:         ws,
		session:    session,
		userID:     userID,
		fromClient: make(chan models.ClientMessage),
		errorCh:    make(chan error, 2),
	}
}

// Handle pumps messages between the socket and the session until either
// side stops or ctx is done. The session is closed on return.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.session.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	// mainLoop watches ctx, so the first result also arrives on cancel.
	err := <-c.errorCh
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			if err := c.processClientMessage(ctx, msg); err != nil {
				return err
			}
		case msg := <-c.session.Outbox():
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-c.session.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientMessage hands msg to the session. Failures are reported to
// the client and do not end the connection.
func (c *Connection) processClientMessage(ctx context.Context, msg models.ClientMessage) error {
	err := c.session.Handle(ctx, msg)
	if err == nil {
		return nil
	}
	slog.Warn("live message failed", "user_id", c.userID, "type", msg.Type, "error", err)
	return c.ws.WriteJSON(models.ServerMessage{
		Type:           models.ServerMessageTypeError,
		ConversationID: msg.ConversationID,
		Error:          errs.MessageOf(err),
	})
}
