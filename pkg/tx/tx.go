// Package tx carries a *sql.Tx through context so store implementations
// can join an in-flight transaction without threading it through every
// call signature.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes a function within a database transaction, committing on
// success and rolling back on error or panic.
type Runner struct {
	db *sql.DB
}

// NewRunner builds a Runner over db.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// RunInTx begins a transaction, stores it in ctx, invokes fn, and commits
// or rolls back based on fn's outcome. A panic inside fn rolls back and
// re-panics.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	sqlTx, beginErr := r.db.BeginTx(ctx, nil)
	if beginErr != nil {
		return beginErr
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
			return
		}
		err = sqlTx.Commit()
	}()

	err = fn(WithTx(ctx, sqlTx))
	return err
}
