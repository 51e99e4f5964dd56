package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
)

type MetricsRepository interface {
	// Upsert writes the snapshot for (AccountID, Date); a second write on the
	// same day replaces the values.
	Upsert(ctx context.Context, m *models.AccountMetrics) error
	ListByAccount(ctx context.Context, accountID int64, since time.Time) ([]*models.AccountMetrics, error)
	Latest(ctx context.Context, accountID int64) (*models.AccountMetrics, error)
}

type metricsRepository struct {
	db *sql.DB
}

func NewMetricsRepository(db *sql.DB) MetricsRepository {
	return &metricsRepository{db: db}
}

const metricsColumns = `id, account_id, date, followers_count, following_count, posts_count, engagement_rate,
	reach, impressions, profile_views, website_clicks, updated_at`

func scanMetrics(row interface{ Scan(...any) error }) (*models.AccountMetrics, error) {
	var m models.AccountMetrics
	err := row.Scan(&m.ID, &m.AccountID, &m.Date, &m.Followers, &m.Following, &m.Posts, &m.EngagementRate,
		&m.Reach, &m.Impressions, &m.ProfileViews, &m.WebsiteClicks, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *metricsRepository) Upsert(ctx context.Context, m *models.AccountMetrics) error {
	query := `
		INSERT INTO account_metrics (
			account_id, date, followers_count, following_count, posts_count, engagement_rate,
			reach, impressions, profile_views, website_clicks
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (account_id, date) DO UPDATE SET
			followers_count = EXCLUDED.followers_count,
			following_count = EXCLUDED.following_count,
			posts_count = EXCLUDED.posts_count,
			engagement_rate = EXCLUDED.engagement_rate,
			reach = EXCLUDED.reach,
			impressions = EXCLUDED.impressions,
			profile_views = EXCLUDED.profile_views,
			website_clicks = EXCLUDED.website_clicks,
			updated_at = NOW()
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, m.AccountID, models.MetricsDate(m.Date), m.Followers, m.Following,
		m.Posts, m.EngagementRate, m.Reach, m.Impressions, m.ProfileViews, m.WebsiteClicks).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("upsert account metrics: %w", err)
	}
	return nil
}

func (r *metricsRepository) ListByAccount(ctx context.Context, accountID int64, since time.Time) ([]*models.AccountMetrics, error) {
	query := `SELECT ` + metricsColumns + ` FROM account_metrics WHERE account_id = $1 AND date >= $2 ORDER BY date`

	rows, err := r.db.QueryContext(ctx, query, accountID, models.MetricsDate(since))
	if err != nil {
		return nil, fmt.Errorf("query account metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.AccountMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account metrics: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (r *metricsRepository) Latest(ctx context.Context, accountID int64) (*models.AccountMetrics, error) {
	query := `SELECT ` + metricsColumns + ` FROM account_metrics WHERE account_id = $1 ORDER BY date DESC LIMIT 1`

	m, err := scanMetrics(r.db.QueryRowContext(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest metrics: %w", err)
	}
	return m, nil
}
