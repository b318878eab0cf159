package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/hybrid-search/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// SQLSTATE codes raised when an optional extension is not installed.
const (
	sqlStateUndefinedFunction = "42883"
	sqlStateUndefinedObject   = "42704"
	sqlStateUndefinedFile     = "58P01"
)

func isMissingExtension(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case sqlStateUndefinedFunction, sqlStateUndefinedObject, sqlStateUndefinedFile:
		return true
	default:
		return false
	}
}

// classifyQueryError marks connection-level failures as temporary so the HTTP
// layer can answer 503 instead of 500.
func classifyQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrInternal) || domain.IsKind(err, domain.ErrInvalidInput) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57 operator intervention, 53 resources.
		if len(pgErr.Code) == 5 {
			switch pgErr.Code[:2] {
			case "08", "53", "57":
				return domain.WrapError(domain.ErrTemporary, op, err)
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
