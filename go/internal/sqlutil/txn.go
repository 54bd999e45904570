package sqlutil

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Run executes fn inside a transaction.
// If fn returns an error the tx rolls back, else it commits.
func Run(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx) // BEGIN
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx) // ROLLBACK
		return err
	}
	return tx.Commit(ctx) // COMMIT
}

// RunValue is Run for callbacks that produce a result.
func RunValue[T any](ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var out T
	err := Run(ctx, db, func(tx pgx.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
