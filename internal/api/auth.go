package api

import (
	"log"
	"net/http"
	"time"

	"jobchat/internal/auth"
	"jobchat/internal/models"
)

type signInResponse struct {
	auth.SignInResponse
	User *models.User `json:"user,omitempty"`
}

func (a *API) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	creds, err := a.auth.SignUp(req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, models.APIResponse{
		Success: true,
		Message: creds.Email,
	})
}

// SignInHandler starts a session and mirrors the account into the user
// directory.
func (a *API) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, account := a.auth.SignIn(req)
	if !resp.Success {
		writeJSON(w, http.StatusUnauthorized, signInResponse{SignInResponse: resp})
		return
	}

	user, err := a.directory.Sync(r.Context(), account)
	if err != nil {
		if err := a.auth.SignOut(resp.Token); err != nil {
			log.Printf("failed to drop session of %s: %v", account.ID, err)
		}
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})

	writeJSON(w, http.StatusOK, signInResponse{SignInResponse: resp, User: &user})
}

func (a *API) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if token := getToken(r); token != "" {
		_ = a.auth.SignOut(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	writeOK(w)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
