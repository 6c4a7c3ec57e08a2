package api

import (
	"fmt"
	"net/http"
	"strings"

	"jobchat/internal/auth"
	"jobchat/internal/errs"
)

type AdminHandler struct {
	authService *auth.AuthService
}

func NewAdminHandler(authService *auth.AuthService) *AdminHandler {
	return &AdminHandler{authService: authService}
}

type AddAccountRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

type AddAccountResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddAccountHandler creates an account with a generated password. The
// password is only ever returned here.
func (h *AdminHandler) AddAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req AddAccountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, errs.NewInvalidArgumentError("email", "email is required"))
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName, _, _ = strings.Cut(req.Email, "@")
	}

	creds, password, err := h.authService.CreateAccount(req.Email, displayName)
	if err != nil {
		writeJSON(w, statusOf(err), AddAccountResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create account: %s", errs.MessageOf(err)),
		})
		return
	}

	writeJSON(w, http.StatusOK, AddAccountResponse{
		Success:  true,
		UserID:   creds.UserID,
		Email:    creds.Email,
		Password: password,
	})
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w)
}
