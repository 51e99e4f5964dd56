package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
)

// PublishRecordRepository is append only.
type PublishRecordRepository interface {
	Create(ctx context.Context, tx *sql.Tx, rec *models.PublishRecord) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishRecord, error)
}

type publishRecordRepository struct {
	db *sql.DB
}

func NewPublishRecordRepository(db *sql.DB) PublishRecordRepository {
	return &publishRecordRepository{db: db}
}

func (r *publishRecordRepository) Create(ctx context.Context, tx *sql.Tx, rec *models.PublishRecord) (int64, error) {
	query := `
		INSERT INTO publish_records (post_id, account_id, platform, remote_id, permalink, status, error, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	args := []any{rec.PostID, rec.AccountID, rec.Platform, rec.RemoteID, rec.Permalink, rec.Status, rec.Error, rec.Attempt}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert publish record: %w", err)
	}

	return id, nil
}

func (r *publishRecordRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishRecord, error) {
	query := `
		SELECT id, post_id, account_id, platform, remote_id, permalink, status, error, attempt, created_at
		FROM publish_records
		WHERE post_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("query publish records: %w", err)
	}
	defer rows.Close()

	var records []*models.PublishRecord
	for rows.Next() {
		var rec models.PublishRecord
		err := rows.Scan(&rec.ID, &rec.PostID, &rec.AccountID, &rec.Platform, &rec.RemoteID,
			&rec.Permalink, &rec.Status, &rec.Error, &rec.Attempt, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan publish record: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}
