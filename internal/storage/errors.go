package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict: нарушение уникальности (гонка двух вставок).
	ErrConflict = errors.New("unique constraint conflict")
	// ErrUnavailable: потеря соединения, таймаут, блокировка.
	ErrUnavailable = errors.New("store unavailable")
)

// Retryable сообщает, можно ли повторить транзакцию целиком.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgAdminShutdown        = "57P01"
)

func pgClass(code string) error {
	switch {
	case code == pgUniqueViolation:
		return ErrConflict
	case strings.HasPrefix(code, "08"),
		code == pgSerializationFailure,
		code == pgDeadlockDetected,
		code == pgAdminShutdown:
		return ErrUnavailable
	}
	return nil
}

// classify заворачивает ошибку драйвера в один из сторожевых типов.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if kind := pgClass(pgErr.Code); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if kind := pgClass(string(pqErr.Code)); kind != nil {
			return fmt.Errorf("%w: %w", kind, err)
		}
		return err
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch {
		case sqErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case sqErr.Code == sqlite3.ErrBusy, sqErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
