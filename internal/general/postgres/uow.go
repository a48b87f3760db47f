package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bus-tracker/internal/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ctxKey struct{}

var txKey = ctxKey{}

// minStatementTimeout keeps an almost expired deadline from disabling the server-side limit.
const minStatementTimeout = 50 * time.Millisecond

// unitOfWork runs session backend calls in transactions on a pgx pool.
type unitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork constructs a unitOfWork that is bound to the given pool.
func NewUnitOfWork(pool *pgxpool.Pool) ports.UnitOfWork {
	return &unitOfWork{pool: pool}
}

// WithinTx runs a session mutation in a read-committed transaction. The ACTIVE
// uniqueness lives in a partial unique index, so nothing stronger is needed.
func (uow *unitOfWork) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return uow.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// WithinReadTx runs restore and history reads in a read-only transaction.
func (uow *unitOfWork) WithinReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return uow.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadOnly}, fn)
}

// run reuses a tx already present in ctx. Otherwise it begins one, and an error or panic from fn rolls back.
func (uow *unitOfWork) run(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := uow.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	// the store bounds every backend call; make the server give up at the same moment
	if deadline, ok := ctx.Deadline(); ok {
		if _, err := tx.Exec(ctx, setStatementTimeout(time.Until(deadline))); err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return err
		}
	}

	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		// the caller's ctx may already be done; rollback must still reach the server
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}

	return tx.Commit(ctx)
}

// setStatementTimeout renders the SET LOCAL for the time left on a deadline.
func setStatementTimeout(left time.Duration) string {
	if left < minStatementTimeout {
		left = minStatementTimeout
	}
	return fmt.Sprintf("SET LOCAL statement_timeout = %d", left.Milliseconds())
}

// TxFromContext extracts the current pgx.Tx from ctx if present.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}

// MustTxFromContext returns the active pgx.Tx or an error if none is found.
func MustTxFromContext(ctx context.Context) (pgx.Tx, error) {
	if tx, ok := TxFromContext(ctx); ok {
		return tx, nil
	}
	return nil, errors.New("no transaction in context: session repositories run inside the backend's unit of work")
}
