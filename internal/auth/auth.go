// Package auth issues and verifies staff bearer tokens
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/drfirst/go-dispensary/internal/domain"
	"github.com/drfirst/go-dispensary/internal/store"
)

const minPasswordLength = 8

// Claims carried in a staff token
type Claims struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
	Name   string      `json:"name"`
	jwt.RegisteredClaims
}

// Service logs staff in and manages accounts
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the service. secret signs HS256 tokens.
func NewService(s store.Store, secret string, ttl time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{store: s, secret: []byte(secret), ttl: ttl, logger: logger, now: time.Now}
}

// Login checks credentials and returns a signed token
func (s *Service) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil, domain.ErrUnauthorized
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, domain.ErrUnauthorized
	}

	token, err := s.Issue(u)
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("user logged in", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return token, u, nil
}

// Issue signs a token for u
func (s *Service) Issue(u *domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: u.ID,
		Role:   u.Role,
		Name:   u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and returns the actor it names
func (s *Service) Verify(tokenString string) (domain.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	if _, err := domain.ParseRole(string(claims.Role)); err != nil || claims.UserID == "" {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	return domain.Actor{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
}

// NewUserRequest is the input to creating a staff account
type NewUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// CreateUser hashes the password and stores the account
func (s *Service) CreateUser(ctx context.Context, req NewUserRequest) (*domain.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, domain.Invalid("username", "is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.Invalid("password", "must be at least %d characters", minPasswordLength)
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hashed),
		Name:         name,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.String("user_id", u.ID), zap.String("role", string(role)))
	return u, nil
}

// EnsureBootstrapAdmin creates an "admin" account when no users exist yet.
// It reports whether one was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, password string) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if password == "" {
		s.logger.Warn("no users exist and no bootstrap admin password is configured")
		return false, nil
	}
	if _, err := s.CreateUser(ctx, NewUserRequest{
		Username: "admin",
		Password: password,
		Name:     "Administrator",
		Role:     string(domain.RoleAdmin),
	}); err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.logger.Warn("bootstrap admin account created", zap.String("username", "admin"))
	return true, nil
}
