package subscription

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"vidtube-backend/internal/auth"
	"vidtube-backend/internal/httpx"
)

type Store interface {
	Toggle(ctx context.Context, subscriberID, channelID string) (bool, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

type toggleResponse struct {
	ChannelID  string `json:"channelId"`
	Subscribed bool   `json:"subscribed"`
}

func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) error {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return httpx.Unauthorized("Unauthorized request")
	}

	channelID := r.PathValue("channelId")
	if _, err := uuid.Parse(channelID); err != nil {
		return httpx.BadRequest("Invalid channel id")
	}
	if channelID == user.ID {
		return httpx.BadRequest("You cannot subscribe to your own channel")
	}

	subscribed, err := h.store.Toggle(r.Context(), user.ID, channelID)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return httpx.NotFound("Channel not found")
		}
		return err
	}

	message := "Unsubscribed successfully"
	if subscribed {
		message = "Subscribed successfully"
	}
	return httpx.Respond(w, http.StatusOK, message, toggleResponse{ChannelID: channelID, Subscribed: subscribed})
}
