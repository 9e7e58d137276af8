package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок API. Хэндлеры мапят тип на HTTP-статус через server.WriteError;
// всё, что не классифицировано — 500 с санитизированным сообщением.

type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

type AuthError struct{ Msg string }

func (e *AuthError) Error() string { return e.Msg }

type ForbiddenError struct{ Msg string }

func (e *ForbiddenError) Error() string { return e.Msg }

type NotFoundError struct{ Entity string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found", e.Entity) }

// RateLimitedError несет retry_after для заголовка/тела 429-го ответа.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func NewAuth(format string, args ...interface{}) error {
	return &AuthError{Msg: fmt.Sprintf(format, args...)}
}

func NewForbidden(format string, args ...interface{}) error {
	return &ForbiddenError{Msg: fmt.Sprintf(format, args...)}
}

func NewNotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// IsNotFound — удобный шорткат для репозиториев.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
