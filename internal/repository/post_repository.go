package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postcraft/internal/models"
)

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	// ListDue returns scheduled posts whose time is at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	// Claim moves the post to status `to` only if it is currently in one of
	// `from`. It reports whether this caller won the transition.
	Claim(ctx context.Context, id int64, to string, from ...string) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status string, publishedAt *time.Time, errText string) error
	// ReleaseStalled fails publishing posts untouched since olderThan and
	// returns their ids.
	ReleaseStalled(ctx context.Context, olderThan time.Time, errText string) ([]int64, error)
	UpdateSchedule(ctx context.Context, id int64, status string, scheduledTime *time.Time) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	CountByStatus(ctx context.Context, userID int64) (map[string]int64, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, content, title, hashtags, scheduled_time, status, published_at, error, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.Content, &post.Title, pq.Array(&post.Hashtags),
		&post.ScheduledTime, &post.Status, &post.PublishedAt, &post.Error, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, content, title, hashtags, scheduled_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	args := []any{post.UserID, post.Content, post.Title, pq.Array(post.Hashtags), post.ScheduledTime, post.Status}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert post: %w", err)
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query post: %w", err)
	}
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE status = $1 AND scheduled_time <= $2
		ORDER BY scheduled_time
		LIMIT $3
	`
	return r.list(ctx, query, models.PostStatusScheduled, now, limit)
}

func (r *postRepository) list(ctx context.Context, query string, args ...any) ([]*models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

func (r *postRepository) Claim(ctx context.Context, id int64, to string, from ...string) (bool, error) {
	query := `
		UPDATE posts
		SET status = $2,
			updated_at = $4
		WHERE id = $1 AND status = ANY($3)
	`
	result, err := r.db.ExecContext(ctx, query, id, to, pq.Array(from), time.Now())
	if err != nil {
		return false, fmt.Errorf("claim post: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (r *postRepository) UpdateStatus(ctx context.Context, id int64, status string, publishedAt *time.Time, errText string) error {
	query := `
		UPDATE posts
		SET status = $2,
			published_at = COALESCE($3, published_at),
			error = $4,
			updated_at = $5
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, status, publishedAt, errText, time.Now()); err != nil {
		return fmt.Errorf("update post status: %w", err)
	}
	return nil
}

func (r *postRepository) ReleaseStalled(ctx context.Context, olderThan time.Time, errText string) ([]int64, error) {
	query := `
		UPDATE posts
		SET status = $3,
			error = $4,
			updated_at = $5
		WHERE status = $1 AND updated_at < $2
		RETURNING id
	`
	rows, err := r.db.QueryContext(ctx, query, models.PostStatusPublishing, olderThan,
		models.PostStatusFailed, errText, time.Now())
	if err != nil {
		return nil, fmt.Errorf("release stalled posts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan post id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return ids, nil
}

func (r *postRepository) UpdateSchedule(ctx context.Context, id int64, status string, scheduledTime *time.Time) error {
	query := `
		UPDATE posts
		SET status = $2,
			scheduled_time = $3,
			updated_at = $4
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, status, scheduledTime, time.Now()); err != nil {
		return fmt.Errorf("update post schedule: %w", err)
	}
	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check post owner: %w", err)
	}

	return result == 1, nil
}

func (r *postRepository) CountByStatus(ctx context.Context, userID int64) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM posts WHERE user_id = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return counts, nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}
