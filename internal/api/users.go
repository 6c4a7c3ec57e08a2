package api

import (
	"io"
	"log"
	"net/http"
	"strconv"

	"jobchat/internal/models"
)

func (a *API) UpdateHandleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle string `json:"handle"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := a.directory.UpdateHandle(r.Context(), userID(r), req.Handle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UploadAvatarHandler takes the raw image as the request body.
func (a *API) UploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.profiles.UploadAvatar(r.Context(), userID(r), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) AvatarHandler(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := a.profiles.Avatar(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to send avatar %s: %v", meta.ID, err)
	}
}

func (a *API) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	p, err := a.profiles.Get(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Profile
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := a.profiles.Update(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.directory.Search(r.Context(), r.URL.Query().Get("q"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}
