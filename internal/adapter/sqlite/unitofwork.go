package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rosterbatch/rosterbatch/internal/logger"
)

// queryer is the subset of *sql.DB and *sql.Tx the repository writes
// through, so the same step functions run inside or outside a
// transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// step is one write in a multi-write operation, paired with a
// compensating undo for the sequential fallback. Steps are ordered so
// the most consequential write (the versioned batch update or delete)
// comes last; the last step therefore never needs an undo.
type step struct {
	name string
	do   func(ctx context.Context, q queryer) error
	undo func(ctx context.Context, q queryer) error
}

// unitOfWork runs an ordered set of steps as one all-or-nothing unit.
type unitOfWork interface {
	Run(ctx context.Context, operation string, steps []step) error
}

// txUnitOfWork is the true-atomicity backend: one database transaction
// around all steps.
type txUnitOfWork struct {
	db *sql.DB
}

func (u *txUnitOfWork) Run(ctx context.Context, operation string, steps []step) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning %s transaction: %w", operation, err)
	}

	for _, st := range steps {
		if err := st.do(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s transaction: %w", operation, err)
	}
	return nil
}

// seqUnitOfWork is the fallback for deployments whose store cannot
// provide multi-statement atomicity. Steps run sequentially against
// the bare connection; on failure, the already-completed steps are
// compensated in reverse order, best-effort. This is weaker than a
// real transaction and every use is logged as such.
type seqUnitOfWork struct {
	db  *sql.DB
	log *logger.Logger
}

func (u *seqUnitOfWork) Run(ctx context.Context, operation string, steps []step) error {
	u.log.Warn("running multi-write operation without transaction, compensation only",
		"operation", operation, "steps", len(steps))

	for i, st := range steps {
		if err := st.do(ctx, u.db); err != nil {
			u.compensate(ctx, operation, steps[:i])
			return err
		}
	}
	return nil
}

// compensate undoes completed steps in reverse order. Failures here
// leave partial state behind; they are logged with enough context to
// clean up by hand.
func (u *seqUnitOfWork) compensate(ctx context.Context, operation string, done []step) {
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.undo == nil {
			continue
		}
		if err := st.undo(ctx, u.db); err != nil {
			u.log.Error("compensating rollback failed, partial state left behind",
				"operation", operation, "step", st.name, "error", err)
		}
	}
}
