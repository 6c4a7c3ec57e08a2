// Package api implements the JSON HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"jobchat/internal/auth"
	"jobchat/internal/chat"
	"jobchat/internal/directory"
	"jobchat/internal/errs"
	"jobchat/internal/jobs"
	"jobchat/internal/models"
	"jobchat/internal/profile"
)

const maxBodySize = 1 << 20

type contextKey struct{}

// PushRegistry stores the browser push endpoints of users.
type PushRegistry interface {
	AddPushSubscription(userID string, sub models.PushSubscription) error
	RemovePushSubscription(userID, endpoint string) error
}

type API struct {
	auth      *auth.AuthService
	directory *directory.Directory
	chat      *chat.Service
	profiles  *profile.Service
	jobs      *jobs.Client
	saved     *jobs.SavedJobs
	push      PushRegistry
	baseURL   string
}

type Deps struct {
	Auth      *auth.AuthService
	Directory *directory.Directory
	Chat      *chat.Service
	Profiles  *profile.Service
	Jobs      *jobs.Client
	SavedJobs *jobs.SavedJobs
	Push      PushRegistry
	BaseURL   string
}

func New(d Deps) *API {
	return &API{
		auth:      d.Auth,
		directory: d.Directory,
		chat:      d.Chat,
		profiles:  d.Profiles,
		jobs:      d.Jobs,
		saved:     d.SavedJobs,
		push:      d.Push,
		baseURL:   d.BaseURL,
	}
}

// Register adds the API routes to mux. The live feed handler is mounted by
// the caller.
func (a *API) Register(mux *http.ServeMux) {
	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, a.RequireSameOrigin(h))
	}
	private := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, a.RequireSameOrigin(a.RequireAuth(h)))
	}

	public("POST /api/signup", a.SignUpHandler)
	public("POST /api/signin", a.SignInHandler)
	public("POST /api/signout", a.SignOutHandler)
	public("GET /api/avatars/{id}", a.AvatarHandler)

	private("GET /api/me", a.MeHandler)
	private("POST /api/me/handle", a.UpdateHandleHandler)
	private("POST /api/me/avatar", a.UploadAvatarHandler)
	private("GET /api/profile", a.GetProfileHandler)
	private("PUT /api/profile", a.UpdateProfileHandler)
	private("GET /api/users/search", a.SearchUsersHandler)

	private("GET /api/requests", a.PendingRequestsHandler)
	private("POST /api/requests", a.SendRequestHandler)
	private("GET /api/requests/sent", a.SentRequestsHandler)
	private("POST /api/requests/{from}/accept", a.AcceptRequestHandler)
	private("POST /api/requests/{from}/reject", a.RejectRequestHandler)
	private("POST /api/requests/{from}/seen", a.MarkRequestSeenHandler)

	private("GET /api/conversations", a.ConversationsHandler)
	private("GET /api/conversations/{id}/messages", a.MessagesHandler)
	private("POST /api/conversations/{id}/messages", a.SendMessageHandler)
	private("POST /api/conversations/{id}/typing", a.TypingHandler)

	private("GET /api/jobs", a.SearchJobsHandler)
	private("GET /api/jobs/categories", a.JobCategoriesHandler)
	private("GET /api/jobs/salary-history", a.SalaryHistoryHandler)
	private("GET /api/saved-jobs", a.SavedJobsHandler)
	private("POST /api/saved-jobs", a.SaveJobHandler)
	private("DELETE /api/saved-jobs/{id}", a.RemoveSavedJobHandler)

	private("POST /api/push/subscriptions", a.AddPushSubscriptionHandler)
	private("DELETE /api/push/subscriptions", a.RemovePushSubscriptionHandler)
}

func getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth rejects requests without a live session token and puts the
// user id into the request context.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.UserID(getToken(r))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	})
}

// RequireSameOrigin rejects state changing requests whose Origin header
// does not match the public base URL.
func (a *API) RequireSameOrigin(next http.Handler) http.Handler {
	allowed := ""
	if u, err := url.Parse(a.baseURL); err == nil {
		allowed = u.Scheme + "://" + u.Host
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			if origin := r.Header.Get("Origin"); origin != "" && !strings.EqualFold(origin, allowed) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string)
	return id
}

// currentUser loads the directory record of the signed in user.
func (a *API) currentUser(r *http.Request) (models.User, error) {
	return a.directory.User(r.Context(), userID(r))
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return errs.NewInvalidArgumentError("body", "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyExists:
		return http.StatusConflict
	case errs.KindPermissionDenied:
		return http.StatusForbidden
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindFailedPrecondition:
		return http.StatusConflict
	case errs.KindUnavailable:
		return http.StatusBadGateway
	}
	if errors.Is(err, models.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	message := errs.MessageOf(err)
	if status == http.StatusNotFound && errs.KindOf(err) == errs.KindInternal {
		message = "not found"
	}
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}
