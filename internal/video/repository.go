package video

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"vidtube-backend/internal/db"
)

var (
	ErrNotFound     = errors.New("video not found")
	ErrOwnerMissing = errors.New("video owner does not exist")
)

const videoColumns = `id, title, description, video_file, thumbnail, duration, views, is_published, owner_id, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (Video, error) {
	var v Video
	err := row.Scan(
		&v.ID,
		&v.Title,
		&v.Description,
		&v.VideoFile,
		&v.Thumbnail,
		&v.Duration,
		&v.Views,
		&v.IsPublished,
		&v.Owner,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	return v, err
}

// List returns one page of videos visible to q.ViewerID together with the
// total number of matching rows.
func (r *Repository) List(ctx context.Context, q ListQuery) ([]Video, int64, error) {
	where := []string{"(is_published OR owner_id = $1)"}
	args := []any{q.ViewerID}

	if q.Search != "" {
		args = append(args, "%"+escapeLike(q.Search)+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	direction := "ASC"
	if q.SortDesc {
		direction = "DESC"
	}
	args = append(args, q.Limit, q.offset())
	query := fmt.Sprintf(`
		SELECT %s
		FROM videos
		WHERE %s
		ORDER BY %s %s, id %s
		LIMIT $%d OFFSET $%d
	`, videoColumns, filter, q.SortBy, direction, direction, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query videos: %w", err)
	}
	defer rows.Close()

	videos := make([]Video, 0)
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate videos: %w", err)
	}

	return videos, total, nil
}

func (r *Repository) Create(ctx context.Context, v Video) (Video, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Video{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	v.ID = id.String()
	v.CreatedAt = now
	v.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO videos (id, title, description, video_file, thumbnail, duration, views, is_published, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, v.ID, v.Title, v.Description, v.VideoFile, v.Thumbnail, v.Duration, v.Views, v.IsPublished, v.Owner, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Video{}, ErrOwnerMissing
		}
		return Video{}, fmt.Errorf("insert video: %w", err)
	}

	return v, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Video{}, ErrNotFound
		}
		return Video{}, fmt.Errorf("query video: %w", err)
	}
	return v, nil
}

// Update changes title and description. An empty thumbnail keeps the current
// one.
func (r *Repository) Update(ctx context.Context, id, title, description, thumbnail string) (Video, error) {
	return r.updateOne(ctx, "update video", `
		UPDATE videos
		SET title = $2, description = $3, thumbnail = COALESCE(NULLIF($4, ''), thumbnail), updated_at = $5
		WHERE id = $1
		RETURNING `+videoColumns,
		id, title, description, thumbnail, time.Now().UTC())
}

func (r *Repository) TogglePublish(ctx context.Context, id string) (Video, error) {
	return r.updateOne(ctx, "toggle video publish", `
		UPDATE videos
		SET is_published = NOT is_published, updated_at = $2
		WHERE id = $1
		RETURNING `+videoColumns,
		id, time.Now().UTC())
}

func (r *Repository) updateOne(ctx context.Context, what, query string, args ...any) (Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Video{}, ErrNotFound
		}
		return Video{}, fmt.Errorf("%s: %w", what, err)
	}
	return v, nil
}

func (r *Repository) IncrementViews(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE videos SET views = views + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment video views: %w", err)
	}
	return expectOneRow(res)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete video: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
