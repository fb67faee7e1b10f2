package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound документ не найден
	ErrNotFound = errors.New("документ не найден")
	// ErrConflict нарушено ограничение уникальности
	ErrConflict = errors.New("конфликт уникальности")
	// ErrUsernameTaken имя пользователя уже занято
	ErrUsernameTaken = fmt.Errorf("%w: имя пользователя занято", ErrConflict)
	// ErrEmailTaken email уже используется другим профилем
	ErrEmailTaken = fmt.Errorf("%w: email уже используется", ErrConflict)
)

const uniqueViolation = "23505"

// mapError приводит ошибки pgx к ошибкам хранилища
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return ErrUsernameTaken
		case "users_email_key":
			return ErrEmailTaken
		}
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
