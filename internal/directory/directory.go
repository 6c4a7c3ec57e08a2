// Package directory mirrors authenticated accounts into the shared user
// directory and searches it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"jobchat/internal/content"
	"jobchat/internal/errs"
	"jobchat/internal/models"
)

const (
	maxHandleAttempts  = 3
	handleSuffixLength = 5
	randomHandleLength = 9
	anonymousName      = "Anonymous"
)

var (
	ErrSearch      = errs.NewUnavailableError("user search failed")
	ErrHandleTaken = errs.NewAlreadyExistsError("handle", "handle already taken")

	reWhitespace    = regexp.MustCompile(`\s+`)
	reInvalidHandle = regexp.MustCompile(`[^a-z0-9._-]`)
)

// UserStore is the directory storage. Implementations must make ClaimHandle
// atomic: a handle is owned by at most one user.
type UserStore interface {
	GetUser(userID string) (models.User, error)
	PutUser(u models.User) error
	UsersByHandle(handle string) ([]models.User, error)
	ListUsers() ([]models.User, error)
	ClaimHandle(userID, handle string) (bool, error)
}

type Directory struct {
	store  UserStore
	now    func() time.Time
	random func(n int) string
}

func New(store UserStore) *Directory {
	return &Directory{
		store:  store,
		now:    time.Now,
		random: randomBase36,
	}
}

// Sync upserts the directory record of a signed in account. A new record
// gets a handle derived from the display name; an existing one keeps its
// handle and has its profile fields and LastSeen refreshed.
func (d *Directory) Sync(ctx context.Context, account models.Account) (models.User, error) {
	if account.ID == "" {
		return models.User{}, errs.NewInvalidArgumentError("id", "account id is required")
	}
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	displayName, err := content.Text(account.DisplayName, content.MaxDisplayNameLength)
	if err != nil {
		return models.User{}, errs.NewInvalidArgumentError("displayName", err.Error())
	}

	existing, err := d.store.GetUser(account.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		slog.Error("failed to read user", "user_id", account.ID, "error", err)
		return models.User{}, fmt.Errorf("read user: %w", err)
	}

	user := models.User{
		ID:          account.ID,
		DisplayName: displayName,
		Email:       account.Email,
		AvatarURL:   account.AvatarURL,
		LastSeen:    d.now().UnixMilli(),
	}
	if user.DisplayName == "" {
		user.DisplayName = existing.DisplayName
	}
	if user.DisplayName == "" {
		user.DisplayName = anonymousName
	}
	if user.AvatarURL == "" {
		user.AvatarURL = existing.AvatarURL
	}

	base := existing.Handle
	if base == "" {
		base = d.DefaultHandle(account.DisplayName)
	}
	user.Handle, err = d.claim(account.ID, base)
	if err != nil {
		return models.User{}, err
	}

	if err := d.store.PutUser(user); err != nil {
		slog.Error("failed to store user", "user_id", user.ID, "error", err)
		return models.User{}, fmt.Errorf("store user: %w", err)
	}
	return user, nil
}

// claim assigns base to userID, falling back to base with a random suffix
// when another user already owns it.
func (d *Directory) claim(userID, base string) (string, error) {
	candidate := base
	for range maxHandleAttempts {
		ok, err := d.store.ClaimHandle(userID, candidate)
		if err != nil {
			slog.Error("failed to claim handle", "user_id", userID, "handle", candidate, "error", err)
			return "", fmt.Errorf("claim handle: %w", err)
		}
		if ok {
			return candidate, nil
		}
		candidate = base + "_" + d.random(handleSuffixLength)
	}
	slog.Warn("no free handle found", "user_id", userID, "base", base)
	return "", ErrHandleTaken
}

// DefaultHandle derives a handle from a display name: lower-cased with runs
// of whitespace replaced by an underscore. Names that leave nothing usable
// get a random handle.
func (d *Directory) DefaultHandle(displayName string) string {
	handle := strings.ToLower(strings.TrimSpace(displayName))
	handle = reWhitespace.ReplaceAllString(handle, "_")
	handle = reInvalidHandle.ReplaceAllString(handle, "")
	if len(handle) > content.MaxHandleLength-handleSuffixLength-1 {
		handle = handle[:content.MaxHandleLength-handleSuffixLength-1]
	}
	if strings.Trim(handle, "._-") == "" {
		return "user_" + d.random(randomHandleLength)
	}
	return handle
}

// UpdateHandle changes the handle of userID.
func (d *Directory) UpdateHandle(ctx context.Context, userID, handle string) (models.User, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if err := content.ValidateHandle(handle); err != nil {
		return models.User{}, errs.NewInvalidArgumentError("handle", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	if _, err := d.User(ctx, userID); err != nil {
		return models.User{}, err
	}

	ok, err := d.store.ClaimHandle(userID, handle)
	if err != nil {
		slog.Error("failed to claim handle", "user_id", userID, "handle", handle, "error", err)
		return models.User{}, fmt.Errorf("claim handle: %w", err)
	}
	if !ok {
		return models.User{}, ErrHandleTaken
	}
	return d.User(ctx, userID)
}

// UpdateAvatar points the user's avatar at url.
func (d *Directory) UpdateAvatar(ctx context.Context, userID, url string) (models.User, error) {
	u, err := d.User(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	u.AvatarURL = url
	if err := d.store.PutUser(u); err != nil {
		slog.Error("failed to store user", "user_id", userID, "error", err)
		return models.User{}, fmt.Errorf("store user: %w", err)
	}
	return u, nil
}

// User returns the directory record of userID.
func (d *Directory) User(ctx context.Context, userID string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	u, err := d.store.GetUser(userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.User{}, errs.NewNotFoundError("user not found")
	}
	if err != nil {
		slog.Error("failed to read user", "user_id", userID, "error", err)
		return models.User{}, fmt.Errorf("read user: %w", err)
	}
	return u, nil
}

// Search looks up users by exact handle and falls back to a case-insensitive
// substring match on handle or email. The requesting user is never returned.
// Results are not ordered.
func (d *Directory) Search(ctx context.Context, term, excludeID string) ([]models.User, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, errs.NewInvalidArgumentError("q", "search term is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A term that cannot be a handle has no exact match.
	var users []models.User
	if content.ValidateHandle(term) == nil {
		var err error
		users, err = d.store.UsersByHandle(term)
		if err != nil {
			slog.Error("failed to search users by handle", "term", term, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrSearch, err)
		}
	}

	if len(users) == 0 {
		all, err := d.store.ListUsers()
		if err != nil {
			slog.Error("failed to list users", "error", err)
			return nil, fmt.Errorf("%w: %w", ErrSearch, err)
		}
		for _, u := range all {
			if strings.Contains(strings.ToLower(u.Handle), term) ||
				strings.Contains(strings.ToLower(u.Email), term) {
				users = append(users, u)
			}
		}
	}

	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID != excludeID {
			out = append(out, u)
		}
	}
	return out, nil
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.IntN(len(base36))]
	}
	return string(b)
}
