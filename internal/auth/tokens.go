package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vidtube-backend/internal/config"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

type AccessClaims struct {
	UserID   string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	UserID string `json:"_id"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenStore is the slice of the credential store the token service needs.
type TokenStore interface {
	FindByID(ctx context.Context, id string) (User, error)
	SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, userID string) error
	RefreshTokenHash(ctx context.Context, userID string) (string, time.Time, error)
}

// TokenService issues access/refresh token pairs. A refresh token is valid
// only while its hash is the one stored on the user, so issuing a new pair
// revokes the previous refresh token.
type TokenService struct {
	store         TokenStore
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(store TokenStore, cfg config.TokenConfig) *TokenService {
	return &TokenService{
		store:         store,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *TokenService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

func (s *TokenService) Issue(ctx context.Context, user User) (Tokens, error) {
	now := s.now().UTC()

	access, err := s.signAccess(user, now)
	if err != nil {
		return Tokens{}, err
	}

	refresh, expiresAt, err := s.signRefresh(user.ID, now)
	if err != nil {
		return Tokens{}, err
	}

	if err := s.store.SetRefreshToken(ctx, user.ID, hashToken(refresh), expiresAt); err != nil {
		return Tokens{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

// Rotate exchanges a valid refresh token for a new pair. It returns
// ErrInvalidRefreshToken for any token that is malformed, expired, of the
// wrong type, for an unknown user or no longer the stored one.
func (s *TokenService) Rotate(ctx context.Context, presented string) (Tokens, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(presented, claims, func(*jwt.Token) (any, error) {
		return s.refreshSecret, nil
	}, s.parserOptions()...)
	if err != nil || !token.Valid || claims.Type != tokenTypeRefresh || claims.UserID == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	storedHash, expiresAt, err := s.store.RefreshTokenHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}
	if storedHash == "" || !s.now().Before(expiresAt) {
		return Tokens{}, ErrInvalidRefreshToken
	}
	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashToken(presented))) != 1 {
		return Tokens{}, ErrInvalidRefreshToken
	}

	return s.Issue(ctx, user)
}

func (s *TokenService) Revoke(ctx context.Context, userID string) error {
	if err := s.store.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) ParseAccessToken(raw string) (AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.accessSecret, nil
	}, s.parserOptions()...)
	if err != nil || !token.Valid || claims.Type != tokenTypeAccess || claims.UserID == "" {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	return *claims, nil
}

func (s *TokenService) parserOptions() []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
}

func (s *TokenService) signAccess(user User, now time.Time) (string, error) {
	claims := AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return encoded, nil
}

func (s *TokenService) signRefresh(userID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.refreshTTL)
	claims := refreshClaims{
		UserID: userID,
		Type:   tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return encoded, expiresAt, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
