package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Claims extends JWT standard claims with the fields services need to act
// on behalf of the caller.
type Claims struct {
	jwt.RegisteredClaims
	UserID       int        `json:"user_id"`
	Username     string     `json:"username"`
	Role         model.Role `json:"role"`
	DepartmentID *int       `json:"department_id,omitempty"`
}

// User rebuilds the caller identity carried by the token.
func (c *Claims) User() *model.User {
	return &model.User{
		ID:           c.UserID,
		Username:     c.Username,
		Role:         c.Role,
		DepartmentID: c.DepartmentID,
		IsActive:     true,
	}
}

// AuthService handles password login and JWT issuance.
type AuthService struct {
	cfg   *config.Config
	store repository.Store
	log   zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, store repository.Store, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "auth").Logger(),
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login verifies credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (*model.LoginResponse, error) {
	user, err := s.store.Users().GetByUsername(ctx, strings.TrimSpace(req.Username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := s.CheckPassword(user.PasswordHash, req.Password); err != nil {
		s.log.Info().Str("username", user.Username).Msg("Login rejected")
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	return &model.LoginResponse{Token: token, User: *user}, nil
}

// GenerateToken signs a JWT for the user.
func (s *AuthService) GenerateToken(user *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   strconv.Itoa(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		DepartmentID: user.DepartmentID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CreateUserParams describes a new account.
type CreateUserParams struct {
	Username     string
	FullName     string
	Password     string
	Role         model.Role
	DepartmentID *int
}

// CreateUser hashes the password and stores a new active account.
func (s *AuthService) CreateUser(ctx context.Context, p CreateUserParams) (*model.User, error) {
	p.Username = strings.TrimSpace(p.Username)
	if len(p.Username) < 3 {
		return nil, NewValidationError("username", "must be at least 3 characters")
	}
	if len(p.Password) < 6 {
		return nil, NewValidationError("password", "must be at least 6 characters")
	}
	if !p.Role.Valid() {
		return nil, NewValidationError("role", "unknown role")
	}

	hash, err := s.HashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &model.User{
		Username:     p.Username,
		FullName:     p.FullName,
		Role:         p.Role,
		DepartmentID: p.DepartmentID,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.log.Info().
		Int("user_id", u.ID).
		Str("username", u.Username).
		Str("role", string(u.Role)).
		Msg("User created")
	return u, nil
}
