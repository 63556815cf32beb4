package video

import (
	"context"
	"errors"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vidtube-backend/internal/auth"
	"vidtube-backend/internal/httpx"
	"vidtube-backend/internal/media"
	"vidtube-backend/internal/observability"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
	maxTitleLength   = 200
	maxDescLength    = 5000

	// maxPage keeps (page-1)*limit inside int32.
	maxPage = math.MaxInt32 / maxPageLimit
)

var sortColumns = map[string]string{
	"createdAt": "created_at",
	"views":     "views",
	"duration":  "duration",
	"title":     "title",
}

var errUploadFailed = errors.New("media upload failed")

type Store interface {
	List(ctx context.Context, q ListQuery) ([]Video, int64, error)
	Create(ctx context.Context, v Video) (Video, error)
	FindByID(ctx context.Context, id string) (Video, error)
	Update(ctx context.Context, id, title, description, thumbnail string) (Video, error)
	TogglePublish(ctx context.Context, id string) (Video, error)
	IncrementViews(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type MediaStore interface {
	Store(ctx context.Context, localPath string) *media.Asset
	Delete(ctx context.Context, assetURL string)
}

// HistoryRecorder is satisfied by *auth.Repository.
type HistoryRecorder interface {
	AddToWatchHistory(ctx context.Context, userID, videoID string) error
}

type HandlerConfig struct {
	UploadDir      string
	MaxUploadBytes int64
}

type Handler struct {
	store   Store
	media   MediaStore
	history HistoryRecorder
	logger  *observability.Logger
	cfg     HandlerConfig
}

func NewHandler(store Store, mediaStore MediaStore, history HistoryRecorder, logger *observability.Logger, cfg HandlerConfig) *Handler {
	return &Handler{store: store, media: mediaStore, history: history, logger: logger, cfg: cfg}
}

type updateRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) error {
	viewer, err := currentUser(r)
	if err != nil {
		return err
	}

	q, err := parseListQuery(r)
	if err != nil {
		return err
	}
	q.ViewerID = viewer.ID

	videos, total, err := h.store.List(r.Context(), q)
	if err != nil {
		return err
	}

	return httpx.Respond(w, http.StatusOK, "Videos fetched successfully", newPage(videos, total, q))
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) error {
	owner, err := currentUser(r)
	if err != nil {
		return err
	}

	uploads, err := media.SaveUploads(w, r, h.cfg.UploadDir, h.cfg.MaxUploadBytes, "videoFile", "thumbnail")
	defer uploads.Cleanup()
	if err != nil {
		return err
	}

	title, description, err := validateText(r.FormValue("title"), r.FormValue("description"))
	if err != nil {
		return err
	}

	var formDuration float64
	if raw := strings.TrimSpace(r.FormValue("duration")); raw != "" {
		formDuration, err = strconv.ParseFloat(raw, 64)
		if err != nil || !validDuration(formDuration) {
			return httpx.BadRequest("duration must be a non-negative number")
		}
	}

	videoPath := uploads.Path("videoFile")
	if videoPath == "" {
		return httpx.BadRequest("Video file is required")
	}
	thumbnailPath := uploads.Path("thumbnail")
	if thumbnailPath == "" {
		return httpx.BadRequest("Thumbnail is required")
	}

	videoAsset, thumbnail, err := h.storePair(r.Context(), videoPath, thumbnailPath)
	if err != nil {
		return httpx.Internal("Error while uploading video", err)
	}

	duration := videoAsset.Duration
	if !validDuration(duration) || duration == 0 {
		duration = formDuration
	}

	created, err := h.store.Create(r.Context(), Video{
		Title:       title,
		Description: description,
		VideoFile:   videoAsset.URL,
		Thumbnail:   thumbnail.URL,
		Duration:    duration,
		IsPublished: true,
		Owner:       owner.ID,
	})
	if err != nil {
		h.discard(r.Context(), videoAsset.URL, thumbnail.URL)
		return err
	}

	return httpx.Respond(w, http.StatusCreated, "Video published successfully", created)
}

// storePair uploads the video and its thumbnail concurrently. When either
// fails the other asset is deleted.
func (h *Handler) storePair(ctx context.Context, videoPath, thumbnailPath string) (*media.Asset, *media.Asset, error) {
	var videoAsset, thumbnail *media.Asset

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		videoAsset = h.media.Store(gctx, videoPath)
		if videoAsset == nil {
			return errUploadFailed
		}
		return nil
	})
	g.Go(func() error {
		thumbnail = h.media.Store(gctx, thumbnailPath)
		if thumbnail == nil {
			return errUploadFailed
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if videoAsset != nil {
			h.media.Delete(ctx, videoAsset.URL)
		}
		if thumbnail != nil {
			h.media.Delete(ctx, thumbnail.URL)
		}
		return nil, nil, err
	}

	return videoAsset, thumbnail, nil
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) error {
	viewer, err := currentUser(r)
	if err != nil {
		return err
	}

	v, err := h.find(r)
	if err != nil {
		return err
	}
	if !v.IsPublished && v.Owner != viewer.ID {
		return httpx.NotFound("Video not found")
	}

	if err := h.store.IncrementViews(r.Context(), v.ID); err != nil {
		h.logger.Warn("video_view_count_failed", map[string]any{"video_id": v.ID, "error": err.Error()})
	} else {
		v.Views++
	}
	if err := h.history.AddToWatchHistory(r.Context(), viewer.ID, v.ID); err != nil {
		h.logger.Warn("watch_history_append_failed", map[string]any{
			"video_id": v.ID,
			"user_id":  viewer.ID,
			"error":    err.Error(),
		})
	}

	return httpx.Respond(w, http.StatusOK, "Video fetched successfully", v)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) error {
	v, err := h.findOwned(r)
	if err != nil {
		return err
	}

	var body updateRequest
	var thumbnailPath string
	if isMultipart(r) {
		uploads, err := media.SaveUploads(w, r, h.cfg.UploadDir, h.cfg.MaxUploadBytes, "thumbnail")
		defer uploads.Cleanup()
		if err != nil {
			return err
		}
		body.Title = r.FormValue("title")
		body.Description = r.FormValue("description")
		thumbnailPath = uploads.Path("thumbnail")
	} else if err := httpx.DecodeJSON(w, r, &body); err != nil {
		return err
	}

	title, description, err := validateText(body.Title, body.Description)
	if err != nil {
		return err
	}

	var newThumbnail string
	if thumbnailPath != "" {
		asset := h.media.Store(r.Context(), thumbnailPath)
		if asset == nil {
			return httpx.Internal("Error while uploading thumbnail", nil)
		}
		newThumbnail = asset.URL
	}

	updated, err := h.store.Update(r.Context(), v.ID, title, description, newThumbnail)
	if err != nil {
		h.media.Delete(r.Context(), newThumbnail)
		if errors.Is(err, ErrNotFound) {
			return httpx.NotFound("Video not found")
		}
		return err
	}

	if newThumbnail != "" {
		h.media.Delete(r.Context(), v.Thumbnail)
	}

	return httpx.Respond(w, http.StatusOK, "Video updated successfully", updated)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) error {
	v, err := h.findOwned(r)
	if err != nil {
		return err
	}

	h.discard(r.Context(), v.VideoFile, v.Thumbnail)

	if err := h.store.Delete(r.Context(), v.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return httpx.NotFound("Video not found")
		}
		return err
	}

	return httpx.Respond(w, http.StatusOK, "Video deleted successfully", struct{}{})
}

func (h *Handler) TogglePublish(w http.ResponseWriter, r *http.Request) error {
	v, err := h.findOwned(r)
	if err != nil {
		return err
	}

	updated, err := h.store.TogglePublish(r.Context(), v.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return httpx.NotFound("Video not found")
		}
		return err
	}

	return httpx.Respond(w, http.StatusOK, "Publish status toggled successfully", updated)
}

func (h *Handler) find(r *http.Request) (Video, error) {
	id := r.PathValue("videoId")
	if _, err := uuid.Parse(id); err != nil {
		return Video{}, httpx.BadRequest("Invalid video id")
	}

	v, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Video{}, httpx.NotFound("Video not found")
		}
		return Video{}, err
	}
	return v, nil
}

func (h *Handler) findOwned(r *http.Request) (Video, error) {
	user, err := currentUser(r)
	if err != nil {
		return Video{}, err
	}

	v, err := h.find(r)
	if err != nil {
		return Video{}, err
	}
	if v.Owner != user.ID {
		return Video{}, httpx.Unauthorized("You are not the owner of this video")
	}
	return v, nil
}

func (h *Handler) discard(ctx context.Context, urls ...string) {
	for _, url := range urls {
		h.media.Delete(ctx, url)
	}
}

func parseListQuery(r *http.Request) (ListQuery, error) {
	values := r.URL.Query()
	q := ListQuery{
		Page:     1,
		Limit:    defaultPageLimit,
		Search:   strings.TrimSpace(values.Get("query")),
		SortBy:   sortColumns["createdAt"],
		SortDesc: true,
	}

	if raw := values.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return ListQuery{}, httpx.BadRequest("page must be a positive integer")
		}
		if page > maxPage {
			return ListQuery{}, httpx.BadRequest("page is too large")
		}
		q.Page = page
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return ListQuery{}, httpx.BadRequest("limit must be a positive integer")
		}
		q.Limit = min(limit, maxPageLimit)
	}
	if raw := values.Get("sortBy"); raw != "" {
		column, ok := sortColumns[raw]
		if !ok {
			return ListQuery{}, httpx.BadRequest("sortBy must be one of createdAt, views, duration, title")
		}
		q.SortBy = column
	}
	switch strings.ToLower(values.Get("sortType")) {
	case "", "desc":
	case "asc":
		q.SortDesc = false
	default:
		return ListQuery{}, httpx.BadRequest("sortType must be asc or desc")
	}
	if raw := values.Get("userId"); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			return ListQuery{}, httpx.BadRequest("Invalid user id")
		}
		q.OwnerID = raw
	}

	return q, nil
}

func validateText(rawTitle, rawDescription string) (string, string, error) {
	title := strings.TrimSpace(rawTitle)
	description := strings.TrimSpace(rawDescription)
	if title == "" || description == "" {
		return "", "", httpx.BadRequest("Title and description are required")
	}
	if !utf8.ValidString(title) || utf8.RuneCountInString(title) > maxTitleLength {
		return "", "", httpx.BadRequest("title is invalid")
	}
	if !utf8.ValidString(description) || utf8.RuneCountInString(description) > maxDescLength {
		return "", "", httpx.BadRequest("description is invalid")
	}
	return title, description, nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func currentUser(r *http.Request) (auth.User, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return auth.User{}, httpx.Unauthorized("Unauthorized request")
	}
	return user, nil
}

// validDuration rejects values encoding/json cannot marshal.
func validDuration(seconds float64) bool {
	return seconds >= 0 && !math.IsNaN(seconds) && !math.IsInf(seconds, 0)
}
