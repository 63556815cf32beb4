package video

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidtube-backend/internal/db/dbtest"
)

func TestRepositoryPostgresIntegration(t *testing.T) {
	database := dbtest.StartPostgres(t)
	repo := NewRepository(database)
	ctx := context.Background()

	ownerID := uuid.NewString()
	viewerID := uuid.NewString()
	for _, u := range []struct{ id, name string }{{ownerID, "owner"}, {viewerID, "viewer"}} {
		_, err := database.ExecContext(ctx, `
			INSERT INTO users (id, username, email, full_name, avatar, password_hash)
			VALUES ($1, $2, $2 || '@example.com', $2, 'a', 'h')
		`, u.id, u.name)
		require.NoError(t, err)
	}

	_, err := repo.Create(ctx, Video{Title: "x", Description: "y", VideoFile: "v", Thumbnail: "t", Owner: uuid.NewString()})
	assert.ErrorIs(t, err, ErrOwnerMissing)

	titles := []string{"Go tutorial", "Cooking 100%", "Go advanced"}
	var created []Video
	for i, title := range titles {
		v, err := repo.Create(ctx, Video{
			Title:       title,
			Description: "desc",
			VideoFile:   "https://cdn.test/v.mp4",
			Thumbnail:   "https://cdn.test/t.png",
			Duration:    float64(i + 1),
			IsPublished: true,
			Owner:       ownerID,
		})
		require.NoError(t, err)
		created = append(created, v)
	}
	draft, err := repo.Create(ctx, Video{Title: "Go draft", Description: "d", VideoFile: "v", Thumbnail: "t", Owner: ownerID})
	require.NoError(t, err)

	base := ListQuery{Page: 1, Limit: 10, SortBy: "duration", ViewerID: viewerID}

	videos, total, err := repo.List(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "drafts are hidden from other viewers")
	require.Len(t, videos, 3)
	assert.Equal(t, created[0].ID, videos[0].ID)

	ownerView := base
	ownerView.ViewerID = ownerID
	_, total, err = repo.List(ctx, ownerView)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	search := base
	search.Search = "go"
	search.SortDesc = true
	search.Limit = 1
	videos, total, err = repo.List(ctx, search)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, videos, 1)
	assert.Equal(t, "Go advanced", videos[0].Title)

	literal := base
	literal.Search = "100%"
	_, total, err = repo.List(ctx, literal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	require.NoError(t, repo.IncrementViews(ctx, created[0].ID))
	got, err := repo.FindByID(ctx, created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Views)

	updated, err := repo.Update(ctx, created[0].ID, "Renamed", "new", "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, created[0].Thumbnail, updated.Thumbnail)

	toggled, err := repo.TogglePublish(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsPublished)

	require.NoError(t, repo.Delete(ctx, draft.ID))
	_, err = repo.FindByID(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, draft.ID), ErrNotFound)
}
