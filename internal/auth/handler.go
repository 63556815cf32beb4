package auth

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"vidtube-backend/internal/config"
	"vidtube-backend/internal/httpx"
	"vidtube-backend/internal/media"
)

// usernameRegex matches normalised usernames that are safe as a path segment.
var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)

// Store is the credential store the handlers run against.
type Store interface {
	TokenStore
	Create(ctx context.Context, user User) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UpdateAccount(ctx context.Context, id, fullName, email string) (User, error)
	UpdateAvatar(ctx context.Context, id, avatarURL string) (User, error)
	UpdateCoverImage(ctx context.Context, id, coverURL string) (User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ChannelProfile(ctx context.Context, username, viewerID string) (ChannelProfile, error)
	WatchHistory(ctx context.Context, userID string) ([]WatchedVideo, error)
}

// MediaStore is satisfied by *media.Gateway.
type MediaStore interface {
	Store(ctx context.Context, localPath string) *media.Asset
	Delete(ctx context.Context, assetURL string)
}

type HandlerConfig struct {
	Cookie         config.CookieConfig
	BcryptCost     int
	UploadDir      string
	MaxUploadBytes int64
}

type Handler struct {
	store  Store
	tokens *TokenService
	media  MediaStore
	cfg    HandlerConfig
}

func NewHandler(store Store, tokens *TokenService, mediaStore MediaStore, cfg HandlerConfig) *Handler {
	return &Handler{store: store, tokens: tokens, media: mediaStore, cfg: cfg}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateAccountRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

type loginResponse struct {
	User         PublicUser `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	uploads, err := media.SaveUploads(w, r, h.cfg.UploadDir, h.cfg.MaxUploadBytes, "avatar", "coverImage")
	defer uploads.Cleanup()
	if err != nil {
		return err
	}

	fullName := strings.TrimSpace(r.FormValue("fullName"))
	email := NormalizeEmail(r.FormValue("email"))
	username := NormalizeUsername(r.FormValue("username"))
	password := r.FormValue("password")
	if fullName == "" || email == "" || username == "" || strings.TrimSpace(password) == "" {
		return httpx.BadRequest("All fields are required")
	}
	if !strings.Contains(email, "@") {
		return httpx.BadRequest("Invalid email address")
	}
	if !usernameRegex.MatchString(username) {
		return httpx.BadRequest("Username must be 3-32 characters of a-z, 0-9, '.', '_' or '-'")
	}

	if _, err := h.store.FindByUsername(ctx, username); err == nil {
		return httpx.Conflict("User with username already exists")
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	avatarPath := uploads.Path("avatar")
	if avatarPath == "" {
		return httpx.BadRequest("Avatar file is required")
	}

	avatar := h.media.Store(ctx, avatarPath)
	if avatar == nil {
		return httpx.Internal("Failed to upload avatar", nil)
	}

	var coverURL string
	if cover := h.media.Store(ctx, uploads.Path("coverImage")); cover != nil {
		coverURL = cover.URL
	}

	passwordHash, err := HashPassword(password, h.cfg.BcryptCost)
	if err != nil {
		h.discard(ctx, avatar.URL, coverURL)
		return err
	}

	created, err := h.store.Create(ctx, User{
		Username:     username,
		Email:        email,
		FullName:     fullName,
		Avatar:       avatar.URL,
		CoverImage:   coverURL,
		PasswordHash: passwordHash,
	})
	if err != nil {
		h.discard(ctx, avatar.URL, coverURL)
		if errors.Is(err, ErrConflict) {
			return httpx.Conflict("User with username already exists")
		}
		return err
	}

	user, err := h.store.FindByID(ctx, created.ID)
	if err != nil {
		return httpx.Internal("Something went wrong while registering the user", err)
	}

	return httpx.Respond(w, http.StatusCreated, "User registered successfully", user.Public())
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) error {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		return err
	}

	email := NormalizeEmail(body.Email)
	if email == "" {
		return httpx.BadRequest("Email is required")
	}
	if body.Password == "" {
		return httpx.BadRequest("Password is required")
	}

	user, err := h.store.FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return httpx.NotFound("User does not exist")
		}
		return err
	}

	if !CheckPassword(user.PasswordHash, body.Password) {
		return httpx.Unauthorized("Invalid user credentials")
	}

	tokens, err := h.tokens.Issue(r.Context(), user)
	if err != nil {
		return httpx.Internal("Something went wrong while generating tokens", err)
	}

	setSessionCookies(w, h.cfg.Cookie, tokens, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	return httpx.Respond(w, http.StatusOK, "User logged in successfully", loginResponse{
		User:         user.Public(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	if err := h.tokens.Revoke(r.Context(), user.ID); err != nil {
		return err
	}

	clearSessionCookies(w, h.cfg.Cookie)
	return httpx.Respond(w, http.StatusOK, "User logged out successfully", struct{}{})
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) error {
	var presented string
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		presented = strings.TrimSpace(cookie.Value)
	}
	if presented == "" {
		var body refreshRequest
		if err := httpx.DecodeJSON(w, r, &body); err != nil {
			return err
		}
		presented = strings.TrimSpace(body.RefreshToken)
	}
	if presented == "" {
		return httpx.Unauthorized("Unauthorized request")
	}

	tokens, err := h.tokens.Rotate(r.Context(), presented)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			return httpx.Unauthorized("Refresh token is expired or used")
		}
		return err
	}

	setSessionCookies(w, h.cfg.Cookie, tokens, h.tokens.AccessTTL(), h.tokens.RefreshTTL())
	return httpx.Respond(w, http.StatusOK, "Access token refreshed", tokens)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) error {
	current, err := currentUser(r)
	if err != nil {
		return err
	}

	var body changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		return err
	}
	if body.OldPassword == "" || strings.TrimSpace(body.NewPassword) == "" {
		return httpx.BadRequest("Old and new password are required")
	}

	user, err := h.store.FindByID(r.Context(), current.ID)
	if err != nil {
		return sessionUserError(err)
	}
	if !CheckPassword(user.PasswordHash, body.OldPassword) {
		return httpx.BadRequest("Invalid old password")
	}

	passwordHash, err := HashPassword(body.NewPassword, h.cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := h.store.UpdatePassword(r.Context(), user.ID, passwordHash); err != nil {
		return sessionUserError(err)
	}

	return httpx.Respond(w, http.StatusOK, "Password changed successfully", struct{}{})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	return httpx.Respond(w, http.StatusOK, "Current user fetched successfully", user.Public())
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) error {
	current, err := currentUser(r)
	if err != nil {
		return err
	}

	var body updateAccountRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		return err
	}

	fullName := strings.TrimSpace(body.FullName)
	email := NormalizeEmail(body.Email)
	if fullName == "" || email == "" {
		return httpx.BadRequest("All fields are required")
	}
	if !strings.Contains(email, "@") {
		return httpx.BadRequest("Invalid email address")
	}

	user, err := h.store.UpdateAccount(r.Context(), current.ID, fullName, email)
	if err != nil {
		return sessionUserError(err)
	}

	return httpx.Respond(w, http.StatusOK, "Account details updated successfully", user.Public())
}

func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) error {
	return h.replaceProfileImage(w, r, profileImage{
		field:   "avatar",
		missing: "Avatar file is missing",
		done:    "Avatar image updated successfully",
		current: func(u User) string { return u.Avatar },
		update:  h.store.UpdateAvatar,
	})
}

func (h *Handler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) error {
	return h.replaceProfileImage(w, r, profileImage{
		field:   "coverImage",
		missing: "Cover image file is missing",
		done:    "Cover image updated successfully",
		current: func(u User) string { return u.CoverImage },
		update:  h.store.UpdateCoverImage,
	})
}

type profileImage struct {
	field   string
	missing string
	done    string
	current func(User) string
	update  func(ctx context.Context, id, url string) (User, error)
}

// replaceProfileImage stores the new file, points the user at it and only
// then deletes the previous asset.
func (h *Handler) replaceProfileImage(w http.ResponseWriter, r *http.Request, image profileImage) error {
	current, err := currentUser(r)
	if err != nil {
		return err
	}

	uploads, err := media.SaveUploads(w, r, h.cfg.UploadDir, h.cfg.MaxUploadBytes, image.field)
	defer uploads.Cleanup()
	if err != nil {
		return err
	}

	path := uploads.Path(image.field)
	if path == "" {
		return httpx.BadRequest(image.missing)
	}

	asset := h.media.Store(r.Context(), path)
	if asset == nil {
		return httpx.Internal("Error while uploading "+image.field, nil)
	}

	user, err := image.update(r.Context(), current.ID, asset.URL)
	if err != nil {
		h.media.Delete(r.Context(), asset.URL)
		return sessionUserError(err)
	}

	h.media.Delete(r.Context(), image.current(current))

	return httpx.Respond(w, http.StatusOK, image.done, user.Public())
}

func (h *Handler) ChannelProfile(w http.ResponseWriter, r *http.Request) error {
	viewer, err := currentUser(r)
	if err != nil {
		return err
	}

	username := NormalizeUsername(r.PathValue("username"))
	if username == "" {
		return httpx.BadRequest("username is missing")
	}

	profile, err := h.store.ChannelProfile(r.Context(), username, viewer.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return httpx.NotFound("channel does not exist")
		}
		return err
	}

	return httpx.Respond(w, http.StatusOK, "User channel fetched successfully", profile)
}

func (h *Handler) WatchHistory(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	history, err := h.store.WatchHistory(r.Context(), user.ID)
	if err != nil {
		return err
	}

	return httpx.Respond(w, http.StatusOK, "Watch history fetched successfully", history)
}

func (h *Handler) discard(ctx context.Context, urls ...string) {
	for _, url := range urls {
		h.media.Delete(ctx, url)
	}
}

func currentUser(r *http.Request) (User, error) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return User{}, httpx.Unauthorized("Unauthorized request")
	}
	return user, nil
}

// sessionUserError reports a user removed after authentication the same way
// the middleware reports a token for an unknown user.
func sessionUserError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return httpx.Unauthorized("Invalid Access Token")
	}
	return err
}
