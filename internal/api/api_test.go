package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"jobchat/internal/auth"
	"jobchat/internal/chat"
	"jobchat/internal/directory"
	"jobchat/internal/errs"
	"jobchat/internal/filestore"
	"jobchat/internal/jobs"
	"jobchat/internal/models"
	"jobchat/internal/profile"
	"jobchat/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://jobchat.test"

type testEnv struct {
	handler http.Handler
	chat    *chat.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"count":0,"results":[]}`)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: "c2VjcmV0"}, store)
	require.NoError(t, err)

	users := directory.New(store)
	chatService := chat.NewService(store, chat.Config{TypingIdle: chat.DefaultTypingIdle})
	t.Cleanup(func() {
		chatService.Close()
		cancel()
		upstream.Close()
		_ = store.Close()
	})

	a := New(Deps{
		Auth:      authService,
		Directory: users,
		Chat:      chatService,
		Profiles:  profile.NewService(store, files, users, testBaseURL),
		Jobs:      jobs.NewClient(ctx, jobs.Config{BaseURL: upstream.URL, Country: "gb"}),
		SavedJobs: jobs.NewSavedJobs(store),
		Push:      store,
		BaseURL:   testBaseURL,
	})
	mux := http.NewServeMux()
	a.Register(mux)
	return &testEnv{handler: mux, chat: chatService}
}

func (e *testEnv) do(t *testing.T, method, path, token string, in any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// signUp creates an account and signs it in.
func (e *testEnv) signUp(t *testing.T, email, displayName string) (string, models.User) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/signup", "", auth.SignUpRequest{Email: email, Password: "password123", DisplayName: displayName})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/signin", "", auth.SignInRequest{Email: email, Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[signInResponse](t, rec)
	require.NotNil(t, resp.User)
	return resp.Token, *resp.User
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	token, user := env.signUp(t, "Ann@Example.com", "Ann Lee")
	assert.Equal(t, "ann_lee", user.Handle)
	assert.Equal(t, "ann@example.com", user.Email)

	rec := env.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, decodeBody[models.User](t, rec).ID)

	rec = env.do(t, http.MethodPost, "/api/signup", "", auth.SignUpRequest{Email: "ann@example.com", Password: "password123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/signin", "", auth.SignInRequest{Email: "ann@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/signout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSameOrigin(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/signin", bytes.NewBufferString(`{}`))
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/signin", bytes.NewBufferString(`{"email":"x@example.com","password":"nope"}`))
	req.Header.Set("Origin", testBaseURL)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandshake(t *testing.T) {
	env := newTestEnv(t)
	annToken, ann := env.signUp(t, "ann@example.com", "Ann Lee")
	bobToken, bob := env.signUp(t, "bob@example.com", "Bob Smith")
	_, cat := env.signUp(t, "cat@example.com", "Cat")

	rec := env.do(t, http.MethodGet, "/api/users/search?q=bob", annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	found := decodeBody[[]models.User](t, rec)
	require.Len(t, found, 1)
	assert.Equal(t, bob.ID, found[0].ID)

	rec = env.do(t, http.MethodGet, "/api/users/search?q=", annToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/requests", annToken, map[string]string{"userId": ann.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/requests", annToken, map[string]string{"userId": "nobody"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/requests", annToken, map[string]string{"userId": bob.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/requests/sent", annToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sent := decodeBody[[]models.PendingRequest](t, rec)
	require.Len(t, sent, 1)
	assert.Equal(t, bob.ID, sent[0].UserID)

	rec = env.do(t, http.MethodGet, "/api/requests", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]models.PendingRequest](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "Ann Lee", pending[0].From.DisplayName)

	rec = env.do(t, http.MethodPost, "/api/requests/"+ann.ID+"/seen", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/requests/"+ann.ID+"/accept", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conversationID := decodeBody[map[string]string](t, rec)["conversationId"]
	require.NotEmpty(t, conversationID)

	rec = env.do(t, http.MethodPost, "/api/requests/"+ann.ID+"/accept", bobToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	messagesPath := "/api/conversations/" + conversationID + "/messages"
	rec = env.do(t, http.MethodPost, messagesPath, annToken, map[string]string{"text": "   "})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, messagesPath, annToken, map[string]string{"text": "Hello Bob"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decodeBody[models.Message](t, rec)
	assert.Equal(t, ann.ID, msg.SenderID)

	rec = env.do(t, http.MethodGet, messagesPath, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeBody[[]models.Message](t, rec)
	require.Len(t, messages, 1)
	assert.Equal(t, "Hello Bob", messages[0].Text)

	rec = env.do(t, http.MethodGet, "/api/conversations", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conversations := decodeBody[[]models.ConversationIndex](t, rec)
	require.Len(t, conversations, 1)
	assert.Equal(t, "Hello Bob", conversations[0].LastMessage.Text)

	rec = env.do(t, http.MethodPost, "/api/conversations/"+conversationID+"/typing", bobToken, map[string]bool{"typing": true})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Outsiders cannot read or write.
	catToken, _ := env.signUp(t, "cat2@example.com", "Cat Two")
	rec = env.do(t, http.MethodGet, messagesPath, catToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, messagesPath, catToken, map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Cat's request gets rejected.
	require.NoError(t, env.chat.SendRequest(context.Background(), cat.Summary(), bob.Summary()))
	rec = env.do(t, http.MethodPost, "/api/requests/"+cat.ID+"/reject", bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/requests", bobToken, nil)
	assert.Empty(t, decodeBody[[]models.PendingRequest](t, rec))
}

func TestProfileAndHandle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "ann@example.com", "Ann Lee")
	_, _ = env.signUp(t, "bob@example.com", "Bob")

	rec := env.do(t, http.MethodPost, "/api/me/handle", token, map[string]string{"handle": "Ann.Codes"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ann.codes", decodeBody[models.User](t, rec).Handle)

	rec = env.do(t, http.MethodPost, "/api/me/handle", token, map[string]string{"handle": "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/me/handle", token, map[string]string{"handle": "no spaces"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/profile", token, models.Profile{Headline: "Go developer", Bio: "*hi*", Skills: []string{"Go"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decodeBody[models.Profile](t, rec)
	assert.Equal(t, "Go developer", p.Headline)
	assert.Contains(t, p.BioHTML, "<em>hi</em>")

	req := httptest.NewRequest(http.MethodPost, "/api/me/avatar", bytes.NewBufferString("not an image"))
	req.Header.Set("token", token)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/avatars/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsAndPush(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "ann@example.com", "Ann Lee")

	rec := env.do(t, http.MethodGet, "/api/jobs?what=go&page=1&full_time=true", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs?page=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/jobs?full_time=maybe", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/saved-jobs", token, models.Job{ID: "42", Title: "Go Developer"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/saved-jobs", token, nil)
	require.Len(t, decodeBody[[]models.SavedJob](t, rec), 1)
	rec = env.do(t, http.MethodDelete, "/api/saved-jobs/42", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/saved-jobs/42", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/push/subscriptions", token, models.PushSubscription{Endpoint: "http://push.example/1", Keys: models.PushKeys{P256dh: "a", Auth: "b"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/push/subscriptions", token, models.PushSubscription{Endpoint: "https://push.example/1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/push/subscriptions", token, models.PushSubscription{Endpoint: "https://push.example/1", Keys: models.PushKeys{P256dh: "a", Auth: "b"}})
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/push/subscriptions", token, map[string]string{"endpoint": "https://push.example/1"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{errs.NewInvalidArgumentError("f", "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", errs.NewNotFoundError("gone")), http.StatusNotFound},
		{errs.NewAlreadyExistsError("f", "dup"), http.StatusConflict},
		{errs.NewPermissionDeniedError("no"), http.StatusForbidden},
		{errs.Unauthenticated, http.StatusUnauthorized},
		{chat.ErrRequestAccept, http.StatusConflict},
		{jobs.ErrUpstream, http.StatusBadGateway},
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusOf(tt.err), tt.err.Error())
	}
}
