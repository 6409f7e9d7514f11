package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/crucial707/chaos-scheduler/internal/chaoserr"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const minOperatorPassword = 8

// UserStore creates and looks up operator accounts. GetByUsername returns nil, nil when missing.
type UserStore interface {
	Create(ctx context.Context, username, password, role string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

// ==========================
// Auth Handler
// ==========================
type AuthHandler struct {
	Users  UserStore
	Secret []byte
	// TokenTTL is the token lifetime; zero means 24h.
	TokenTTL time.Duration
	Now      func() time.Time
}

type credentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ==========================
// Register (role viewer by default; operators need a password)
// ==========================
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if !decodeBody(w, r, &input) {
		return
	}

	input.Username = strings.TrimSpace(input.Username)
	if input.Role == "" {
		input.Role = models.RoleViewer
	}
	fields := map[string]string{}
	if input.Username == "" {
		fields["username"] = "required"
	}
	switch input.Role {
	case models.RoleViewer:
	case models.RoleOperator:
		if len(input.Password) < minOperatorPassword {
			fields["password"] = "operators need a password of at least 8 characters"
		}
	default:
		fields["role"] = "must be viewer or operator"
	}
	if len(fields) > 0 {
		JSONValidationError(w, "validation failed", fields, http.StatusBadRequest)
		return
	}

	user, err := h.Users.Create(r.Context(), input.Username, input.Password, input.Role)
	if err != nil {
		if chaoserr.KindOf(err) == chaoserr.KindConflict {
			JSONError(w, "username already taken", http.StatusConflict)
			return
		}
		slog.Error("register: create user failed", "username", input.Username, "err", err)
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// ==========================
// Login (password verified when the account has one)
// ==========================
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input credentialsInput
	if !decodeBody(w, r, &input) {
		return
	}

	user, err := h.Users.GetByUsername(r.Context(), strings.TrimSpace(input.Username))
	if err != nil {
		slog.Error("login: lookup failed", "err", err)
		JSONError(w, ErrMessageInternal, http.StatusInternalServerError)
		return
	}
	if user == nil {
		JSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if user.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
			JSONError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ttl := h.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
		"exp":      now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.Secret)
	if err != nil {
		JSONError(w, "failed to issue token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": signed,
		"user":  user,
	})
}
