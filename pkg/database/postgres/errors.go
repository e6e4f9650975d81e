package pg

import (
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

// CheckNoRows substitutes notFound for sql.ErrNoRows.
func CheckNoRows(err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return err
}

// CheckUniqueViolation substitutes exists for a unique constraint violation.
func CheckUniqueViolation(err, exists error) error {
	if hasCode(err, pgerrcode.UniqueViolation) {
		return exists
	}
	return err
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
