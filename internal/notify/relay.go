// Package notify turns incoming chat requests into alerts for connected
// clients and web push notifications for the rest.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"jobchat/internal/chat"
	"jobchat/internal/errs"
	"jobchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	ActionAccept = "accept"

	seenTTL = 24 * time.Hour
)

// RequestSource is where the relay learns about chat requests.
type RequestSource interface {
	ObserveRequests(ctx context.Context, userID string) (<-chan chat.RequestEvent, error)
	MarkRequestSeen(ctx context.Context, userID, fromID string) error
}

// Alert is delivered once per session for every pending request the user
// has not seen. Removed alerts withdraw an earlier one.
type Alert struct {
	Request models.PendingRequest
	Removed bool
}

type Relay struct {
	source RequestSource
	// seen is the per-session set of requests already alerted.
	seen geche.Geche[string, struct{}]
}

func NewRelay(ctx context.Context, source RequestSource) *Relay {
	return &Relay{
		source: source,
		seen:   geche.NewMapTTLCache[string, struct{}](ctx, seenTTL, time.Minute),
	}
}

// Subscription is one session observing a user's incoming requests.
type Subscription struct {
	relay    *Relay
	userID   string
	session  string
	onAlert  func(Alert)
	onAction func(action string, req models.PendingRequest)

	active map[string]models.PendingRequest
	mu     sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// SubscribeRequests starts alerting userID about pending requests. onAlert
// and onAction are called from a single goroutine owned by the subscription.
// Requests marked seen persistently are never alerted.
func (r *Relay) SubscribeRequests(ctx context.Context, userID string, onAlert func(Alert), onAction func(action string, req models.PendingRequest)) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	events, err := r.source.ObserveRequests(ctx, userID)
	if err != nil {
		cancel()
		slog.Error("failed to observe chat requests", "user_id", userID, "error", err)
		return nil, err
	}

	sub := &Subscription{
		relay:    r,
		userID:   userID,
		session:  uuid.NewString(),
		onAlert:  onAlert,
		onAction: onAction,
		active:   make(map[string]models.PendingRequest),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go sub.run(ctx, events)
	return sub, nil
}

// run handles events until ctx is done. A feed that closes earlier fell
// behind and is reopened; the replayed pending requests are filtered by the
// seen set.
func (s *Subscription) run(ctx context.Context, events <-chan chat.RequestEvent) {
	defer close(s.done)
	for {
		for e := range events {
			s.handle(e)
		}
		if ctx.Err() != nil {
			return
		}

		var err error
		events, err = s.relay.source.ObserveRequests(ctx, s.userID)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to reopen chat request feed", "user_id", s.userID, "error", err)
			}
			return
		}
	}
}

func (s *Subscription) handle(e chat.RequestEvent) {
	req := e.Request
	if e.Removed {
		s.mu.Lock()
		_, ok := s.active[req.UserID]
		delete(s.active, req.UserID)
		s.mu.Unlock()
		if ok {
			s.onAlert(Alert{Request: req, Removed: true})
		}
		return
	}

	if req.Status != models.RequestStatusPending || req.Seen {
		return
	}
	key := s.seenKey(req)
	if _, err := s.relay.seen.Get(key); err == nil {
		return
	}
	s.relay.seen.Set(key, struct{}{})

	s.mu.Lock()
	s.active[req.UserID] = req
	s.mu.Unlock()
	s.onAlert(Alert{Request: req})
}

// A request sent again after being withdrawn has a new creation time and
// is alerted again.
func (s *Subscription) seenKey(req models.PendingRequest) string {
	return fmt.Sprintf("%s/%s/%d", s.session, req.UserID, req.CreatedAt)
}

// View acts on the alert for the request from fromID: it is dismissed,
// marked seen and handed to onAction as an accept.
func (s *Subscription) View(ctx context.Context, fromID string) error {
	req, ok := s.take(fromID)
	if !ok {
		return errs.NewNotFoundError("no alert for this request")
	}

	if err := s.relay.source.MarkRequestSeen(ctx, s.userID, fromID); err != nil {
		slog.Warn("failed to mark chat request seen", "user_id", s.userID, "from", fromID, "error", err)
	}
	s.onAction(ActionAccept, req)
	return nil
}

// Dismiss drops the alert for the request from fromID without acting on it.
func (s *Subscription) Dismiss(ctx context.Context, fromID string) error {
	if _, ok := s.take(fromID); !ok {
		return errs.NewNotFoundError("no alert for this request")
	}
	return s.relay.source.MarkRequestSeen(ctx, s.userID, fromID)
}

func (s *Subscription) take(fromID string) (models.PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.active[fromID]
	delete(s.active, fromID)
	return req, ok
}

// Close stops the subscription and waits for pending callbacks to return.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
