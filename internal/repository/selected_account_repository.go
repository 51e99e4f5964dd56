package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maheshrc27/postcraft/internal/models"
)

// SelectedAccountRepository stores the destinations a post targets.
type SelectedAccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, sa *models.SelectedAccount) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.SelectedAccount, error)
	Remove(ctx context.Context, postID, accountID int64) error
}

type selectedAccountRepository struct {
	db *sql.DB
}

func NewSelectedAccountRepository(db *sql.DB) SelectedAccountRepository {
	return &selectedAccountRepository{db: db}
}

func (r *selectedAccountRepository) Create(ctx context.Context, tx *sql.Tx, sa *models.SelectedAccount) error {
	var err error

	query := `
		INSERT INTO selected_accounts (post_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, sa.PostID, sa.AccountID)
	} else {
		_, err = r.db.ExecContext(ctx, query, sa.PostID, sa.AccountID)
	}
	if err != nil {
		return fmt.Errorf("insert selected account: %w", err)
	}
	return nil
}

func (r *selectedAccountRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.SelectedAccount, error) {
	query := "SELECT post_id, account_id, created_at FROM selected_accounts WHERE post_id = $1 ORDER BY account_id"

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var accounts []*models.SelectedAccount
	for rows.Next() {
		var sa models.SelectedAccount
		if err := rows.Scan(&sa.PostID, &sa.AccountID, &sa.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		accounts = append(accounts, &sa)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return accounts, nil
}

func (r *selectedAccountRepository) Remove(ctx context.Context, postID, accountID int64) error {
	query := `DELETE FROM selected_accounts WHERE post_id = $1 AND account_id = $2`
	if _, err := r.db.ExecContext(ctx, query, postID, accountID); err != nil {
		return fmt.Errorf("delete selected account: %w", err)
	}
	return nil
}
