package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"vidtube-backend/internal/auth"
	"vidtube-backend/internal/config"
	"vidtube-backend/internal/httpx"
	"vidtube-backend/internal/media"
	"vidtube-backend/internal/observability"
)

// AuthCleaner is satisfied by *auth.Repository.
type AuthCleaner interface {
	CleanupStaleAuthData(ctx context.Context, ipLimitRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

type CleanupHandler struct {
	auth      AuthCleaner
	logger    *observability.Logger
	cfg       config.MaintenanceConfig
	uploadDir string
	now       func() time.Time
}

type cleanupResponse struct {
	Status string             `json:"status"`
	Auth   auth.CleanupResult `json:"auth"`
	Temp   int                `json:"deleted_temp_uploads"`
}

func NewCleanupHandler(cleaner AuthCleaner, logger *observability.Logger, cfg config.MaintenanceConfig, uploadDir string) *CleanupHandler {
	cfg.CronSecret = strings.TrimSpace(cfg.CronSecret)
	return &CleanupHandler{
		auth:      cleaner,
		logger:    logger,
		cfg:       cfg,
		uploadDir: uploadDir,
		now:       time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) error {
	if h.cfg.CronSecret == "" {
		return httpx.NotFound("not found")
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, secret, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(secret)), []byte(h.cfg.CronSecret)) != 1 {
		return httpx.Unauthorized("unauthorized")
	}

	result, err := h.auth.CleanupStaleAuthData(r.Context(), h.cfg.IPLimitRetention, h.cfg.BatchSize)
	if err != nil {
		return httpx.Internal("cleanup failed", err)
	}

	removed, err := media.CleanupStaleUploads(h.uploadDir, h.cfg.UploadTempRetention, h.now())
	if err != nil {
		h.logger.Warn("upload_temp_cleanup_failed", map[string]any{"dir": h.uploadDir, "error": err.Error()})
	}

	h.logger.Info("maintenance_cleanup_completed", map[string]any{
		"cleared_refresh_tokens": result.ClearedRefreshTokens,
		"deleted_ip_limits":      result.DeletedIPLimits,
		"deleted_temp_uploads":   removed,
	})

	return httpx.Respond(w, http.StatusOK, "Cleanup completed", cleanupResponse{
		Status: "ok",
		Auth:   result,
		Temp:   removed,
	})
}
