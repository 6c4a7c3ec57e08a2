package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"jobchat/internal/content"
	"jobchat/internal/errs"
	"jobchat/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry  = 12 * time.Hour
	minPasswordLength   = 8
	signInFailedMessage = "Sign in failed"
)

var (
	ErrUserExists = errs.NewAlreadyExistsError("email", "user already exists")
)

type SignUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignInResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type UserCredentials struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PasswordHash string `json:"passwordHash"`
	// Counter for consecutive failed sign-in attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
	CreatedAt           int64 `json:"createdAt"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// Account returns what the rest of the system knows about the signed in user.
func (uc *UserCredentials) Account() models.Account {
	return models.Account{
		ID:          uc.UserID,
		DisplayName: uc.DisplayName,
		Email:       uc.Email,
	}
}

// Session is a persisted sign-in token. Only the token hash is stored.
type Session struct {
	UserID    string
	TokenHash string
	ExpiresAt int64
}

// CredentialStore persists credentials and sessions across restarts.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
	UpsertToken(session Session) error
	DeleteToken(tokenHash string) error
	ListTokens() ([]Session, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

type AuthService struct {
	Config
	store      CredentialStore
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, Session]
	now        func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// NewAuthService loads stored credentials and live sessions from store.
func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, Session](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	credentials, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for _, c := range credentials {
		tx.Set(c.Email, &c)
	}
	tx.Unlock()

	sessions, err := store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	now := as.now().Unix()
	for _, s := range sessions {
		if s.ExpiresAt <= now {
			_ = store.DeleteToken(s.TokenHash)
			continue
		}
		as.liveTokens.Set(s.TokenHash, s)
	}

	return as, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates a new account.
func (as *AuthService) SignUp(req SignUpRequest) (UserCredentials, error) {
	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return UserCredentials{}, errs.NewInvalidArgumentError("email", "invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return UserCredentials{}, errs.NewInvalidArgumentError("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	displayName, err := content.Text(req.DisplayName, content.MaxDisplayNameLength)
	if err != nil {
		return UserCredentials{}, errs.NewInvalidArgumentError("displayName", err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserCredentials{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(email); err == nil {
		return UserCredentials{}, ErrUserExists
	}

	creds := &UserCredentials{
		UserID:       uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    as.now().UnixMilli(),
	}
	if err := as.store.UpsertCredentials(*creds); err != nil {
		return UserCredentials{}, fmt.Errorf("failed to store credentials: %w", err)
	}
	tx.Set(email, creds)

	return *creds, nil
}

// CreateAccount signs up an account with a random password and returns it.
func (as *AuthService) CreateAccount(email, displayName string) (UserCredentials, string, error) {
	password, err := as.generateToken()
	if err != nil {
		return UserCredentials{}, "", err
	}
	creds, err := as.SignUp(SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	return creds, password, err
}

// SignIn checks the credentials and starts a session.
func (as *AuthService) SignIn(req SignInRequest) (SignInResponse, models.Account) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(normalizeEmail(req.Email))
	if err != nil {
		return SignInResponse{
			Success: false,
			Message: signInFailedMessage,
		}, models.Account{}
	}

	// Check failed sign-in attempts
	if user.FailedLoginAttempts > 3 {
		lastAttempt := user.LastAttemptTime
		failedAttempts := user.FailedLoginAttempts
		nextAttempt := lastAttempt + 30*(failedAttempts*failedAttempts)
		if now.Unix() < nextAttempt {
			return SignInResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed sign-in attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, models.Account{}
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		as.persist(user)
		return SignInResponse{
			Success: false,
			Message: signInFailedMessage,
		}, models.Account{}
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("sign in failed", "user_id", user.UserID, "error", err)
		return SignInResponse{
			Success: false,
			Message: "internal error",
		}, models.Account{}
	}

	expiresAt := now.Add(as.TokenExpiry)
	session := Session{UserID: user.UserID, TokenHash: as.hashToken(token), ExpiresAt: expiresAt.Unix()}
	if err := as.store.UpsertToken(session); err != nil {
		slog.Error("failed to persist session", "user_id", user.UserID, "error", err)
		return SignInResponse{
			Success: false,
			Message: "internal error",
		}, models.Account{}
	}
	as.liveTokens.Set(session.TokenHash, session)

	if user.FailedLoginAttempts > 0 {
		user.ResetFailedLoginAttempts(now)
		as.persist(user)
	}

	return SignInResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiresAt.Unix(),
	}, user.Account()
}

func (as *AuthService) persist(user *UserCredentials) {
	if err := as.store.UpsertCredentials(*user); err != nil {
		slog.Error("failed to persist credentials", "user_id", user.UserID, "error", err)
	}
}

func (as *AuthService) SignOut(token string) error {
	tokenHash := as.hashToken(token)
	_ = as.liveTokens.Del(tokenHash)
	return as.store.DeleteToken(tokenHash)
}

// UserID resolves a session token. Sessions past their ExpiresAt are
// dropped even if the cache still holds them.
func (as *AuthService) UserID(token string) (string, error) {
	if token == "" {
		return "", errs.Unauthenticated
	}
	tokenHash := as.hashToken(token)
	session, err := as.liveTokens.Get(tokenHash)
	if err != nil {
		return "", errs.Unauthenticated
	}
	if session.ExpiresAt <= as.now().Unix() {
		_ = as.liveTokens.Del(tokenHash)
		if err := as.store.DeleteToken(tokenHash); err != nil {
			slog.Warn("failed to delete expired session", "user_id", session.UserID, "error", err)
		}
		return "", errs.Unauthenticated
	}
	return session.UserID, nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha256.New, as.secretBytes)
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}
