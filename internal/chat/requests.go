package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"jobchat/internal/errs"
	"jobchat/internal/metrics"
	"jobchat/internal/models"
	"jobchat/internal/storage"
)

// RequestEvent is a change of a user's incoming request list. Removed events
// only carry the sender id.
type RequestEvent struct {
	Request models.PendingRequest
	Removed bool
}

// SendRequest invites to into a conversation with from. The request is
// stored under the recipient and mirrored under the sender. Sending again
// overwrites the previous request.
func (s *Service) SendRequest(ctx context.Context, from, to models.UserSummary) error {
	if from.ID == "" || to.ID == "" {
		return errs.NewInvalidArgumentError("userId", "both users are required")
	}
	if from.ID == to.ID {
		return errs.NewInvalidArgumentError("userId", "cannot send a chat request to yourself")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	createdAt := s.now().UnixMilli()
	err := s.store.ApplyBatch([]storage.Write{
		{
			Path: storage.RequestPath(to.ID, from.ID),
			Value: models.ChatRequest{
				From:      &from,
				Status:    models.RequestStatusPending,
				CreatedAt: createdAt,
			},
		},
		{
			Path: storage.SentRequestPath(from.ID, to.ID),
			Value: models.ChatRequest{
				To:        &to,
				Status:    models.RequestStatusPending,
				CreatedAt: createdAt,
			},
		},
	})
	if err != nil {
		slog.Error("failed to send chat request", "from", from.ID, "to", to.ID, "error", err)
		return fmt.Errorf("send chat request: %w", err)
	}

	metrics.IncChatEvent("request_sent")
	return nil
}

// AcceptRequest turns the pending request from fromID to current into a
// conversation and returns its id. The conversation, both index entries and
// the removal of both request records commit together; if anything fails
// the request stays in place.
func (s *Service) AcceptRequest(ctx context.Context, current models.UserSummary, fromID string) (string, error) {
	fromID = strings.TrimSpace(fromID)
	if fromID == "" {
		return "", fmt.Errorf("%w: request has no sender", ErrRequestAccept)
	}
	if current.ID == "" {
		return "", errs.NewInvalidArgumentError("userId", "current user is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var conv models.Conversation
	err := s.store.Update(func(tx *storage.Tx) error {
		var req models.ChatRequest
		if err := tx.Get(storage.RequestPath(current.ID, fromID), &req); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: no pending request from %s", ErrRequestAccept, fromID)
			}
			return err
		}
		if req.Status != models.RequestStatusPending {
			return fmt.Errorf("%w: request is %s", ErrRequestAccept, req.Status)
		}

		from := models.UserSummary{ID: fromID}
		if req.From != nil {
			from = *req.From
			from.ID = fromID
		}

		var err error
		conv, err = s.createConversation(tx, current, from, startedText)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRequestAccept, err)
		}

		if err := tx.Delete(storage.RequestPath(current.ID, fromID)); err != nil {
			return err
		}
		return tx.Delete(storage.SentRequestPath(fromID, current.ID))
	})
	if err != nil {
		slog.Error("failed to accept chat request", "user_id", current.ID, "from", fromID, "error", err)
		if errors.Is(err, ErrRequestAccept) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrRequestAccept, err)
	}

	metrics.IncChatEvent("request_accepted")
	slog.Info("chat started", "conversation_id", conv.ID, "users", []string{fromID, current.ID})
	return conv.ID, nil
}

// RejectRequest removes the request from fromID on both sides.
func (s *Service) RejectRequest(ctx context.Context, currentID, fromID string) error {
	if currentID == "" || fromID == "" {
		return errs.NewInvalidArgumentError("userId", "both users are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.store.ApplyBatch([]storage.Write{
		{Path: storage.RequestPath(currentID, fromID)},
		{Path: storage.SentRequestPath(fromID, currentID)},
	})
	if err != nil {
		slog.Error("failed to reject chat request", "user_id", currentID, "from", fromID, "error", err)
		return fmt.Errorf("reject chat request: %w", err)
	}

	metrics.IncChatEvent("request_rejected")
	return nil
}

// PendingRequests lists the requests userID received, oldest first.
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]models.PendingRequest, error) {
	return s.listRequests(ctx, storage.RequestsPath(userID))
}

// SentRequests lists the requests userID sent that are still pending.
func (s *Service) SentRequests(ctx context.Context, userID string) ([]models.PendingRequest, error) {
	return s.listRequests(ctx, storage.SentRequestsPath(userID))
}

func (s *Service) listRequests(ctx context.Context, parent string) ([]models.PendingRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var children []storage.Child[models.ChatRequest]
	err := s.store.View(func(tx *storage.Tx) error {
		var err error
		children, err = storage.ListChildren[models.ChatRequest](tx, parent)
		return err
	})
	if err != nil {
		slog.Error("failed to list chat requests", "path", parent, "error", err)
		return nil, fmt.Errorf("list chat requests: %w", err)
	}

	out := make([]models.PendingRequest, 0, len(children))
	for _, c := range children {
		if c.Value.Status != models.RequestStatusPending {
			continue
		}
		out = append(out, models.PendingRequest{UserID: c.Key, ChatRequest: c.Value})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

// MarkRequestSeen persists that userID has been alerted about the request
// from fromID.
func (s *Service) MarkRequestSeen(ctx context.Context, userID, fromID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.store.Update(func(tx *storage.Tx) error {
		path := storage.RequestPath(userID, fromID)
		var req models.ChatRequest
		if err := tx.Get(path, &req); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return errs.NewNotFoundError("chat request not found")
			}
			return err
		}
		if req.Seen {
			return nil
		}
		req.Seen = true
		return tx.Set(path, req)
	})
	if err != nil && errs.KindOf(err) != errs.KindNotFound {
		slog.Error("failed to mark chat request seen", "user_id", userID, "from", fromID, "error", err)
	}
	return err
}

// ObserveRequests streams changes of userID's incoming requests, starting
// with the pending ones. The channel is closed when ctx is done.
func (s *Service) ObserveRequests(ctx context.Context, userID string) (<-chan RequestEvent, error) {
	parent := storage.RequestsPath(userID)
	events, cancel := s.store.Watch(parent)

	pending, err := s.PendingRequests(ctx, userID)
	if err != nil {
		cancel()
		return nil, err
	}
	initial := make([]RequestEvent, 0, len(pending))
	for _, p := range pending {
		initial = append(initial, RequestEvent{Request: p})
	}

	return forward(ctx, events, cancel, initial, func(e storage.Event) (RequestEvent, bool) {
		senderID := e.Rel(parent)
		if senderID == "" || strings.Contains(senderID, "/") {
			return RequestEvent{}, false
		}
		if e.Deleted {
			return RequestEvent{Request: models.PendingRequest{UserID: senderID}, Removed: true}, true
		}
		var req models.ChatRequest
		if err := e.Decode(&req); err != nil {
			slog.Error("failed to decode chat request", "path", e.Path, "error", err)
			return RequestEvent{}, false
		}
		return RequestEvent{Request: models.PendingRequest{UserID: senderID, ChatRequest: req}}, true
	}), nil
}
