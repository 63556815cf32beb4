package auth

import (
	"net/http"
	"time"

	"vidtube-backend/internal/config"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

func setSessionCookies(w http.ResponseWriter, policy config.CookieConfig, tokens Tokens, accessTTL, refreshTTL time.Duration) {
	now := time.Now().UTC()
	http.SetCookie(w, sessionCookie(policy, AccessTokenCookie, tokens.AccessToken, now.Add(accessTTL)))
	http.SetCookie(w, sessionCookie(policy, RefreshTokenCookie, tokens.RefreshToken, now.Add(refreshTTL)))
}

func clearSessionCookies(w http.ResponseWriter, policy config.CookieConfig) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		cookie := sessionCookie(policy, name, "", time.Unix(0, 0).UTC())
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

func sessionCookie(policy config.CookieConfig, name, value string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   policy.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   policy.Secure,
		SameSite: policy.SameSite,
	}
}
