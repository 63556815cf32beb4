package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vidtube-backend/internal/httpx"
)

type contextKey struct{}

// UserFinder resolves the subject of an access token.
type UserFinder interface {
	FindByID(ctx context.Context, id string) (User, error)
}

type Authenticator struct {
	tokens   *TokenService
	users    UserFinder
	boundary *httpx.Boundary
}

func NewAuthenticator(tokens *TokenService, users UserFinder, boundary *httpx.Boundary) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, boundary: boundary}
}

// Require admits only requests carrying a valid access token for an existing
// user, read from the accessToken cookie or an Authorization Bearer header.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := accessTokenFromRequest(r)
		if raw == "" {
			a.boundary.WriteError(w, r, httpx.Unauthorized("Unauthorized request"))
			return
		}

		claims, err := a.tokens.ParseAccessToken(raw)
		if err != nil {
			a.boundary.WriteError(w, r, httpx.Unauthorized("Invalid Access Token"))
			return
		}

		user, err := a.users.FindByID(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				a.boundary.WriteError(w, r, httpx.Unauthorized("Invalid Access Token"))
				return
			}
			a.boundary.WriteError(w, r, err)
			return
		}
		user.PasswordHash = ""

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func accessTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func ContextWithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}
