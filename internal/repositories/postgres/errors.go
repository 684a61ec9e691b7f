package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/podbridge/fulfillment/internal/repositories"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgSerializationFail   = "40001"
)

// wrapError categorises a pgx error. Already categorised errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &repositories.StoreError{Op: op, Category: repositories.CategoryNotFound, Message: "not found", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &repositories.StoreError{Op: op, Category: repositories.CategoryConflict, Message: "already exists", Err: err}
		case pgForeignKeyViolation:
			return &repositories.StoreError{Op: op, Category: repositories.CategoryNotFound, Message: "referenced row missing", Err: err}
		case pgSerializationFail:
			return &repositories.StoreError{Op: op, Category: repositories.CategoryConflict, Message: "concurrent update", Err: err}
		}
		return &repositories.StoreError{Op: op, Category: repositories.CategoryUnknown, Message: pgErr.Message, Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return repositories.NewUnavailableError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
