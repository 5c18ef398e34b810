package service

import "context"

// TransactionManager runs fn in one database transaction carried by ctx.
// Nested calls join the outer transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
