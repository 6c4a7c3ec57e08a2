package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jobchat/internal/metrics"
	"jobchat/internal/models"
	"jobchat/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const pushTTL = 60 * 60 * 24

// PushStore holds the push subscriptions and the request feed.
type PushStore interface {
	Watch(prefix string) (<-chan storage.Event, func())
	PushSubscriptions(userID string) ([]models.PushSubscription, error)
	RemovePushSubscription(userID, endpoint string) error
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subject is the contact of the sender, a mailto: or https: URL.
	Subject string
}

func (c PushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// Pusher sends a web push notification to the recipient of every new
// chat request.
type Pusher struct {
	store  PushStore
	config PushConfig
	client webpush.HTTPClient
	// rewatchDelay is the pause before watching a closed feed again.
	rewatchDelay time.Duration
}

func NewPusher(store PushStore, config PushConfig) *Pusher {
	return &Pusher{
		store:        store,
		config:       config,
		client:       http.DefaultClient,
		rewatchDelay: time.Second,
	}
}

type pushPayload struct {
	Type string              `json:"type"`
	From *models.UserSummary `json:"from,omitempty"`
}

// Run watches chat requests until ctx is done. It returns immediately when
// no VAPID keys are configured.
func (p *Pusher) Run(ctx context.Context) error {
	if !p.config.Enabled() {
		slog.Info("web push disabled, no VAPID keys configured")
		return nil
	}

	events, cancel := p.store.Watch(storage.AllRequestsPath())
	defer func() { cancel() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				// Fell behind or the store closed. Requests written in the gap
				// get no push; connected sessions still alert them.
				slog.Warn("request feed closed, watching again")
				cancel()
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(p.rewatchDelay):
				}
				events, cancel = p.store.Watch(storage.AllRequestsPath())
				continue
			}
			p.handle(ctx, e)
		}
	}
}

func (p *Pusher) handle(ctx context.Context, e storage.Event) {
	if e.Deleted {
		return
	}
	parts := strings.Split(e.Rel(storage.AllRequestsPath()), "/")
	if len(parts) != 2 {
		return
	}
	recipientID := parts[0]

	var req models.ChatRequest
	if err := e.Decode(&req); err != nil {
		slog.Error("failed to decode chat request", "path", e.Path, "error", err)
		return
	}
	if req.Status != models.RequestStatusPending || req.Seen {
		return
	}

	payload, err := json.Marshal(pushPayload{Type: string(models.ServerMessageTypeChatRequest), From: req.From})
	if err != nil {
		slog.Error("failed to encode push payload", "error", err)
		return
	}
	if err := p.Notify(ctx, recipientID, payload); err != nil {
		slog.Warn("web push failed", "user_id", recipientID, "error", err)
	}
}

// Notify delivers payload to every subscription of userID. Subscriptions the
// push service reports as gone are removed.
func (p *Pusher) Notify(ctx context.Context, userID string, payload []byte) error {
	subs, err := p.store.PushSubscriptions(userID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}

	var failed int
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}, &webpush.Options{
			HTTPClient:      p.client,
			Subscriber:      p.config.Subject,
			VAPIDPublicKey:  p.config.VAPIDPublicKey,
			VAPIDPrivateKey: p.config.VAPIDPrivateKey,
			TTL:             pushTTL,
			Urgency:         webpush.UrgencyNormal,
		})
		if err != nil {
			failed++
			metrics.IncPushError()
			slog.Warn("failed to send web push", "user_id", userID, "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			if err := p.store.RemovePushSubscription(userID, sub.Endpoint); err != nil {
				slog.Error("failed to remove push subscription", "user_id", userID, "error", err)
			}
		case resp.StatusCode >= 300:
			failed++
			metrics.IncPushError()
			slog.Warn("push service rejected notification", "user_id", userID, "status", resp.StatusCode)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d push deliveries failed", failed, len(subs))
	}
	return nil
}
