package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"jobchat/internal/errs"
	"jobchat/internal/models"
)

func (a *API) AddPushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var sub models.PushSubscription
	if err := decode(r, &sub); err != nil {
		writeError(w, err)
		return
	}
	if u, err := url.Parse(sub.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		writeError(w, errs.NewInvalidArgumentError("endpoint", "endpoint must be an https URL"))
		return
	}
	if sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		writeError(w, errs.NewInvalidArgumentError("keys", "subscription keys are required"))
		return
	}
	sub.CreatedAt = time.Now().UnixMilli()

	if err := a.push.AddPushSubscription(userID(r), sub); err != nil {
		slog.Error("failed to store push subscription", "user_id", userID(r), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true})
}

func (a *API) RemovePushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.push.RemovePushSubscription(userID(r), req.Endpoint); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
