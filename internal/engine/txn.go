package engine

import (
	"context"
	"fmt"

	"github.com/drblury/stageflow/internal/engine/logging"
)

// Transaction is the minimal contract the engine needs from a transactional
// resource bound to an event's processing context. *sql.Tx satisfies it
// directly.
type Transaction interface {
	Rollback() error
}

type txnContextKey struct{}

// WithTransaction binds tx to the context so the failure path can roll it
// back. The engine never commits; committing stays with the code that
// opened the transaction.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txnContextKey{}, tx)
}

// TransactionFromContext returns the transaction bound to ctx, if any.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txnContextKey{}).(Transaction)
	return tx, ok
}

// rollbackCurrentTransaction rolls back the context transaction on the total
// failure path. Rollback errors and panics are logged and swallowed; nothing
// may escape this path.
func rollbackCurrentTransaction(ctx context.Context, log logging.ServiceLogger) {
	tx, ok := TransactionFromContext(ctx)
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("transaction rollback panicked", fmt.Errorf("panic: %v", r), nil)
		}
	}()

	if err := tx.Rollback(); err != nil {
		log.Error("transaction rollback failed", err, nil)
	}
}
