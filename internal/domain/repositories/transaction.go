package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager handles database transactions.
// Lifecycle writes pair a document with its new revision inside one ExecTx.
type TransactionManager interface {
	// ExecTx executes fn within a transaction; fn's error rolls everything back
	ExecTx(ctx context.Context, fn TxFn) error
}
