package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// Transactor runs fn inside a transaction, committing when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type sqlTransactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) Transactor {
	return &sqlTransactor{db: db}
}

func (t *sqlTransactor) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
