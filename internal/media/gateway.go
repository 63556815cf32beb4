package media

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"vidtube-backend/internal/observability"
)

// Asset is a stored media object.
type Asset struct {
	URL      string  `json:"url"`
	PublicID string  `json:"publicId"`
	Duration float64 `json:"duration"`
}

// Provider is a remote media backend.
type Provider interface {
	Name() string
	Upload(ctx context.Context, localPath string) (Asset, error)
	Delete(ctx context.Context, assetURL string) error
}

// Gateway wraps a Provider with the failure policy callers rely on: a failed
// upload yields nil and a failed delete is only logged.
type Gateway struct {
	provider Provider
	logger   *observability.Logger
	capture  func(err error, tags map[string]string)
}

func NewGateway(provider Provider, logger *observability.Logger) *Gateway {
	return &Gateway{provider: provider, logger: logger, capture: observability.CaptureError}
}

// Store uploads the file at localPath and removes the local file whatever the
// outcome. It returns nil when there is nothing to upload or the upload fails.
func (g *Gateway) Store(ctx context.Context, localPath string) *Asset {
	if localPath == "" {
		return nil
	}
	defer g.discard(localPath)

	asset, err := g.provider.Upload(ctx, localPath)
	if errors.Is(err, context.Canceled) {
		g.logger.Warn("media_upload_canceled", map[string]any{"provider": g.provider.Name()})
		return nil
	}
	if err != nil {
		g.logger.Error("media_upload_failed", map[string]any{
			"provider": g.provider.Name(),
			"error":    err.Error(),
		})
		g.capture(err, map[string]string{"component": "media", "op": "upload"})
		return nil
	}

	return &asset
}

func (g *Gateway) Delete(ctx context.Context, assetURL string) {
	if assetURL == "" {
		return
	}

	if err := g.provider.Delete(ctx, assetURL); err != nil {
		g.logger.Warn("media_delete_failed", map[string]any{
			"provider": g.provider.Name(),
			"url":      assetURL,
			"error":    err.Error(),
		})
	}
}

func (g *Gateway) discard(path string) {
	if err := removeFile(path); err != nil {
		g.logger.Warn("media_temp_remove_failed", map[string]any{"path": path, "error": err.Error()})
	}
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
