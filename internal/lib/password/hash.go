// Package password хеширует и проверяет пароли локальных аккаунтов.
package password

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinLength минимальная длина пароля в символах.
const MinLength = 6

var (
	// ErrTooShort пароль короче MinLength.
	ErrTooShort = errors.New("password must be at least 6 characters")
	// ErrMismatch пароль не соответствует хешу.
	ErrMismatch = errors.New("password does not match")
)

// GetHash проверяет длину пароля и возвращает его bcrypt‑хэш.
func GetHash(password string) (string, error) {
	const op = "password.GetHash"
	if utf8.RuneCountInString(password) < MinLength {
		return "", fmt.Errorf("%s: %w", op, ErrTooShort)
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(hashedPassword), nil
}

// CompareHash сравнивает bcrypt‑хэш с введённым паролем.
// Несовпадение возвращает ошибку, совместимую с ErrMismatch.
func CompareHash(originalHash, externalPassword string) error {
	const op = "password.CompareHash"
	err := bcrypt.CompareHashAndPassword([]byte(originalHash), []byte(externalPassword))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%s: %w", op, ErrMismatch)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
