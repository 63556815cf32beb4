package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube-backend/internal/auth"
	"vidtube-backend/internal/httpx"
)

const (
	aliceID = "00000000-0000-7000-8000-000000000001"
	bobID   = "00000000-0000-7000-8000-000000000002"
	ghostID = "00000000-0000-7000-8000-000000000099"
)

type fakeStore struct {
	channels map[string]bool
	subs     map[[2]string]bool
}

func (s *fakeStore) Toggle(_ context.Context, subscriberID, channelID string) (bool, error) {
	if !s.channels[channelID] {
		return false, ErrChannelNotFound
	}
	key := [2]string{subscriberID, channelID}
	if s.subs[key] {
		delete(s.subs, key)
		return false, nil
	}
	s.subs[key] = true
	return true, nil
}

func toggle(t *testing.T, h *Handler, userID, channelID string) (int, toggleResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/c/"+channelID, nil)
	req.SetPathValue("channelId", channelID)
	if userID != "" {
		req = req.WithContext(auth.ContextWithUser(req.Context(), auth.User{ID: userID}))
	}
	rec := httptest.NewRecorder()
	httpx.NewBoundary(nil).Handle(h.Toggle).ServeHTTP(rec, req)

	var body struct {
		Data toggleResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Data
}

func TestToggleSubscription(t *testing.T) {
	store := &fakeStore{channels: map[string]bool{aliceID: true, bobID: true}, subs: map[[2]string]bool{}}
	h := NewHandler(store)

	code, data := toggle(t, h, bobID, aliceID)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, data.Subscribed)
	assert.True(t, store.subs[[2]string{bobID, aliceID}])

	code, data = toggle(t, h, bobID, aliceID)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, data.Subscribed)
	assert.Empty(t, store.subs)
}

func TestToggleSubscriptionErrors(t *testing.T) {
	store := &fakeStore{channels: map[string]bool{aliceID: true}, subs: map[[2]string]bool{}}
	h := NewHandler(store)

	code, _ := toggle(t, h, aliceID, aliceID)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = toggle(t, h, bobID, ghostID)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = toggle(t, h, bobID, "nope")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = toggle(t, h, "", aliceID)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Empty(t, store.subs)
}
