// Package repository is the Postgres game store. Every guarded write runs in a
// transaction that first locks the session row: FOR SHARE for per-player
// mutations and FOR UPDATE for status transitions, so a transition never
// interleaves with a press, heartbeat or elimination on the same session.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/mcdev12/fingerbutton/go/internal/sqlutil"
)

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	sqlutil.TxBeginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{
		db: db,
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

// lockSession takes a row lock on the session and returns its status.
// mode is "SHARE" or "UPDATE".
func lockSession(ctx context.Context, tx pgx.Tx, id uuid.UUID, mode string) (models.GameStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status::text FROM game_sessions WHERE id = $1 FOR `+mode, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", models.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock session: %w", err)
	}
	return models.GameStatus(status), nil
}

// withLiveSession runs fn while holding a shared lock on a starting or active
// session. Missing or non-live sessions report false without calling fn.
func (r *Repository) withLiveSession(ctx context.Context, sessionID uuid.UUID, fn func(tx pgx.Tx) (bool, error)) (bool, error) {
	return sqlutil.RunValue(ctx, r.db, func(tx pgx.Tx) (bool, error) {
		status, err := lockSession(ctx, tx, sessionID, "SHARE")
		if errors.Is(err, models.ErrSessionNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !status.IsLive() {
			return false, nil
		}
		return fn(tx)
	})
}
