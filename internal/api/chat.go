package api

import (
	"net/http"

	"jobchat/internal/models"
)

func (a *API) PendingRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := a.chat.PendingRequests(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (a *API) SentRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := a.chat.SentRequests(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// SendRequestHandler invites another user to chat. Both sides are stored
// with their current directory snapshot.
func (a *API) SendRequestHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	from, err := a.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := a.directory.User(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := a.chat.SendRequest(r.Context(), from.Summary(), to.Summary()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true})
}

func (a *API) AcceptRequestHandler(w http.ResponseWriter, r *http.Request) {
	current, err := a.currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conversationID, err := a.chat.AcceptRequest(r.Context(), current.Summary(), r.PathValue("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversationId": conversationID})
}

func (a *API) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.RejectRequest(r.Context(), userID(r), r.PathValue("from")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *API) MarkRequestSeenHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.chat.MarkRequestSeen(r.Context(), userID(r), r.PathValue("from")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations, err := a.chat.Conversations(r.Context(), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.chat.Messages(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessageHandler answers 204 when the text was blank and nothing was
// sent.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	msg, ok, err := a.chat.SendMessage(r.Context(), r.PathValue("id"), userID(r), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) TypingHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Typing bool `json:"typing"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.chat.SetTyping(r.Context(), r.PathValue("id"), userID(r), req.Typing); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w)
}
