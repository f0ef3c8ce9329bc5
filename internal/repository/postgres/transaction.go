package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"notehub/internal/domain/repositories"
)

// TransactionManager runs TxFns in read-committed transactions
type TransactionManager struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewTransactionManager(pool *pgxpool.Pool, logger *slog.Logger) repositories.TransactionManager {
	return &TransactionManager{pool: pool, logger: logger}
}

// ExecTx commits when fn returns nil and rolls back otherwise. A nested call
// joins the transaction already carried by ctx.
func (tm *TransactionManager) ExecTx(ctx context.Context, fn repositories.TxFn) (err error) {
	if repositories.TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		// Rollback on a detached ctx so a cancelled caller still releases the conn
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			tm.logger.Warn("rollback failed", "error", rbErr, "cause", err)
		}
	}()

	if err = fn(repositories.ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
