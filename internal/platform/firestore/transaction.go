package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc runs inside a transaction and may be retried, so it must not have side effects
// outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// runTransaction bounds the whole retry loop by txTimeout unless the caller's deadline is sooner.
func runTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}
	return WrapError("transaction", client.RunTransaction(ctx, fn, firestore.MaxAttempts(txAttempts)))
}
