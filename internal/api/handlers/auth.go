package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/drfirst/go-dispensary/internal/auth"
	"github.com/drfirst/go-dispensary/internal/domain"
)

// AuthHandler handles login and staff accounts
type AuthHandler struct {
	auth   *auth.Service
	logger *zap.Logger
}

// NewAuthHandler creates a new handler
func NewAuthHandler(svc *auth.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, logger: orNop(logger)}
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for later requests
type LoginResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// Login handles POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	token, user, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

// CreateUser handles POST /admin/users
func (h *AuthHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.NewUserRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.auth.CreateUser(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}
