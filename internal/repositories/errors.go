package repositories

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Common repository errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate key violation")
	ErrInsufficientStock = errors.New("insufficient stock")
)

const pgUniqueViolation = "23505"

// translateError maps driver errors onto the repository sentinels
func translateError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(ErrNotFound, msg)
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return errors.Wrapf(ErrDuplicateKey, "%s: %s", msg, pgErr.ConstraintName)
	}
	return errors.Wrap(err, msg)
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// IsDuplicateKey reports whether err wraps ErrDuplicateKey
func IsDuplicateKey(err error) bool {
	return stderrors.Is(err, ErrDuplicateKey)
}
