package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
)

type SocialAccountRepository interface {
	// Create stores a connected account. Reconnecting the same destination
	// account replaces its credentials and profile.
	Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SocialAccount, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListAll(ctx context.Context) ([]*models.SocialAccount, error)
	// ListExpiring returns accounts whose credentials expire before the given time.
	ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error)
	CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error)
	// UpdateCredentials overwrites the stored credentials. Concurrent
	// refreshes are last write wins.
	UpdateCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	Remove(ctx context.Context, id int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

const socialAccountColumns = `id, user_id, platform, account_id, account_name, account_username,
	profile_picture_url, access_token, refresh_token, token_expires_at, created_at, updated_at`

func scanSocialAccount(row interface{ Scan(...any) error }) (*models.SocialAccount, error) {
	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID, &sa.AccountName,
		&sa.AccountUsername, &sa.ProfilePicture, &sa.AccessToken, &sa.RefreshToken,
		&sa.TokenExpiresAt, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sa, nil
}

func (r *socialAccountRepository) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	var insertQuery = `
		INSERT INTO social_accounts(
			user_id,
			platform,
			account_id,
			account_name,
			account_username,
			profile_picture_url,
			access_token,
			refresh_token,
			token_expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, platform, account_id) DO UPDATE SET
			account_name = EXCLUDED.account_name,
			account_username = EXCLUDED.account_username,
			profile_picture_url = EXCLUDED.profile_picture_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at = NOW()
		RETURNING id
	`
	args := []any{
		sa.UserID,
		sa.Platform,
		sa.AccountID,
		sa.AccountName,
		sa.AccountUsername,
		sa.ProfilePicture,
		sa.AccessToken,
		sa.RefreshToken,
		sa.TokenExpiresAt,
	}

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, insertQuery, args...).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert social account: %w", err)
	}

	return id, nil
}

func (r *socialAccountRepository) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE id = $1`

	sa, err := scanSocialAccount(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query social account: %w", err)
	}
	return sa, nil
}

func (r *socialAccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE user_id = $1 ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *socialAccountRepository) ListAll(ctx context.Context) ([]*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts ORDER BY id`
	return r.list(ctx, query)
}

func (r *socialAccountRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT ` + socialAccountColumns + ` FROM social_accounts WHERE token_expires_at < $1 ORDER BY token_expires_at`
	return r.list(ctx, query, before)
}

func (r *socialAccountRepository) list(ctx context.Context, query string, args ...any) ([]*models.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query social accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.SocialAccount
	for rows.Next() {
		sa, err := scanSocialAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan social account: %w", err)
		}
		accounts = append(accounts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return accounts, nil
}

func (r *socialAccountRepository) CheckByUserID(ctx context.Context, accountID, userID int64) (bool, error) {
	query := "SELECT 1 FROM social_accounts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&result)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check social account owner: %w", err)
	}

	return result == 1, nil
}

func (r *socialAccountRepository) UpdateCredentials(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_accounts
		SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			token_expires_at = $4,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("update credentials: account %d not found", id)
	}
	return nil
}

func (r *socialAccountRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM social_accounts WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete social account: %w", err)
	}
	return nil
}
