package ws

import (
	"log"
	"net/http"

	"jobchat/internal/metrics"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 64 << 10

// Authenticator resolves the session token of a request to a user id.
type Authenticator interface {
	UserID(token string) (string, error)
}

type Server struct {
	auth     Authenticator
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(auth Authenticator, hub *Hub) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		// Default CheckOrigin allows only same-host origins.
		upgrader: &websocket.Upgrader{},
	}
}

func token(r *http.Request) string {
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(token(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	session, err := s.hub.Join(userID)
	if err != nil {
		log.Printf("failed to start live session for %s: %v", userID, err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		session.Close()
		return
	}
	ws.SetReadLimit(maxMessageSize)

	metrics.IncWSActive()
	defer metrics.DecWSActive()

	err = NewConnection(session, ws, userID).Handle(r.Context())
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("live connection of %s ended: %v", userID, err)
	}
}
