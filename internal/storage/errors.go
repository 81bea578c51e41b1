// Package storage содержит ошибки слоя хранения, общие для репозитория и сервисов.
package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("user already exists")
	ErrNoCredits         = errors.New("no credits available")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminal   = errors.New("session is already terminal")
	ErrEntitlementExists = errors.New("entitlement with this order reference already exists")
	ErrPasswordChanged   = errors.New("password was changed concurrently")
	// ErrTransient временная ошибка БД, после которой операцию можно повторить.
	ErrTransient = errors.New("transient storage error")
)

// Коды PostgreSQL, после которых транзакцию имеет смысл повторить.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// IsTransient сообщает, является ли ошибка PostgreSQL временной.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return true
	}
	return false
}

// IsUniqueViolation сообщает, нарушено ли ограничение уникальности.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// Wrap оборачивает ошибку операции op, помечая временные ошибки ErrTransient.
func Wrap(op string, err error) error {
	if IsTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsForeignKeyViolation сообщает, ссылается ли запись на несуществующую строку.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}
