package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vidtube-backend/internal/db"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrConflict = errors.New("username already taken")
)

const userColumns = `id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.Avatar,
		&user.CoverImage,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (r *Repository) Create(ctx context.Context, user User) (User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	created, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, full_name, avatar, cover_image, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+userColumns,
		id.String(), user.Username, user.Email, user.FullName, user.Avatar, user.CoverImage, user.PasswordHash, now,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return created, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (User, error) {
	return r.findOne(ctx, "id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, "username", `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// FindByEmail returns the oldest account registered with email, including its
// password hash.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, "email", `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, email)
}

func (r *Repository) findOne(ctx context.Context, by, query string, arg any) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by %s: %w", by, err)
	}
	return user, nil
}

func (r *Repository) UpdateAccount(ctx context.Context, id, fullName, email string) (User, error) {
	return r.updateOne(ctx, "account", `
		UPDATE users
		SET full_name = $2, email = $3, updated_at = $4
		WHERE id = $1
		RETURNING `+userColumns,
		id, fullName, email, time.Now().UTC(),
	)
}

func (r *Repository) UpdateAvatar(ctx context.Context, id, avatarURL string) (User, error) {
	return r.updateOne(ctx, "avatar", `
		UPDATE users
		SET avatar = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id, avatarURL, time.Now().UTC(),
	)
}

func (r *Repository) UpdateCoverImage(ctx context.Context, id, coverURL string) (User, error) {
	return r.updateOne(ctx, "cover image", `
		UPDATE users
		SET cover_image = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns,
		id, coverURL, time.Now().UTC(),
	)
}

func (r *Repository) updateOne(ctx context.Context, what, query string, args ...any) (User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("update user %s: %w", what, err)
	}
	return user, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return expectOneRow(res)
}

// SetRefreshToken touches only the refresh token columns.
func (r *Repository) SetRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = $2, refresh_token_expires_at = $3
		WHERE id = $1
	`, userID, tokenHash, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return expectOneRow(res)
}

func (r *Repository) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = NULL, refresh_token_expires_at = NULL
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

// RefreshTokenHash returns the stored hash and expiry, or "" when the user has
// no active refresh token.
func (r *Repository) RefreshTokenHash(ctx context.Context, userID string) (string, time.Time, error) {
	var hash sql.NullString
	var expiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT refresh_token_hash, refresh_token_expires_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&hash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("read refresh token: %w", err)
	}
	if !hash.Valid || !expiresAt.Valid {
		return "", time.Time{}, nil
	}
	return hash.String, expiresAt.Time.UTC(), nil
}

func (r *Repository) ChannelProfile(ctx context.Context, username, viewerID string) (ChannelProfile, error) {
	var profile ChannelProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT
			u.id, u.username, u.email, u.full_name, u.avatar, u.cover_image, u.created_at, u.updated_at,
			(SELECT COUNT(*) FROM subscriptions s WHERE s.channel_id = u.id),
			(SELECT COUNT(*) FROM subscriptions s WHERE s.subscriber_id = u.id),
			EXISTS (SELECT 1 FROM subscriptions s WHERE s.channel_id = u.id AND s.subscriber_id = $2)
		FROM users u
		WHERE u.username = $1
	`, username, viewerID).Scan(
		&profile.ID,
		&profile.Username,
		&profile.Email,
		&profile.FullName,
		&profile.Avatar,
		&profile.CoverImage,
		&profile.CreatedAt,
		&profile.UpdatedAt,
		&profile.SubscribersCount,
		&profile.ChannelsSubscribedToCount,
		&profile.IsSubscribed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChannelProfile{}, ErrNotFound
		}
		return ChannelProfile{}, fmt.Errorf("query channel profile: %w", err)
	}
	return profile, nil
}

func (r *Repository) WatchHistory(ctx context.Context, userID string) ([]WatchedVideo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			v.id, v.title, v.description, v.video_file, v.thumbnail, v.duration, v.views, v.is_published,
			v.created_at, v.updated_at, w.watched_at,
			o.username, o.full_name, o.avatar
		FROM watch_history w
		JOIN videos v ON v.id = w.video_id
		JOIN users o ON o.id = v.owner_id
		WHERE w.user_id = $1
		ORDER BY w.watched_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query watch history: %w", err)
	}
	defer rows.Close()

	history := make([]WatchedVideo, 0)
	for rows.Next() {
		var item WatchedVideo
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.Description,
			&item.VideoFile,
			&item.Thumbnail,
			&item.Duration,
			&item.Views,
			&item.IsPublished,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.WatchedAt,
			&item.Owner.Username,
			&item.Owner.FullName,
			&item.Owner.Avatar,
		); err != nil {
			return nil, fmt.Errorf("scan watch history: %w", err)
		}
		history = append(history, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch history: %w", err)
	}

	return history, nil
}

// AddToWatchHistory moves videoID to the front of the user's history.
func (r *Repository) AddToWatchHistory(ctx context.Context, userID, videoID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO watch_history (user_id, video_id, watched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, video_id) DO UPDATE SET watched_at = EXCLUDED.watched_at
	`, userID, videoID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append watch history: %w", err)
	}
	return nil
}

func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (ip) DO UPDATE
		SET
			hits = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
				ELSE auth_login_ip_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
				ELSE auth_login_ip_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	return false, retryAfter(windowStartedAt.Add(window).Sub(now.UTC())), nil
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, ipLimitRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if ipLimitRetention <= 0 {
		ipLimitRetention = 30 * 24 * time.Hour
	}

	cleared, err := r.clearExpiredRefreshTokens(ctx, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedIPLimits, err := r.deleteStaleIPLimits(ctx, time.Now().UTC().Add(-ipLimitRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		ClearedRefreshTokens: cleared,
		DeletedIPLimits:      deletedIPLimits,
	}, nil
}

func (r *Repository) clearExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM users
			WHERE refresh_token_hash IS NOT NULL AND refresh_token_expires_at < NOW()
			ORDER BY refresh_token_expires_at ASC
			LIMIT $1
		)
		UPDATE users u
		SET refresh_token_hash = NULL, refresh_token_expires_at = NULL
		FROM stale
		WHERE u.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}

	return affected, nil
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
