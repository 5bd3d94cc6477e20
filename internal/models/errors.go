package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAlreadyCompleted       = errors.New("survey already completed")
	ErrCatalogUnavailable     = errors.New("survey catalog unavailable")
	ErrSurveyNotFound         = errors.New("survey not found")
	ErrPremiumRequired        = errors.New("premium plan required")
	ErrDailyLimitReached      = errors.New("daily survey limit reached")
	ErrInvalidAnswers         = errors.New("invalid answers")
	ErrNegativeBalance        = errors.New("balance cannot be negative")
	ErrInvalidAmount          = errors.New("please enter a valid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrBelowMinimumWithdrawal = errors.New("amount below minimum withdrawal")
	ErrEmailTaken             = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrUserNotFound           = errors.New("user not found")
	ErrValidation             = errors.New("validation failed")
	ErrPayoutOutOfRange       = errors.New("survey payout out of range")
)

// FieldErrors ошибки проверки формы: поле -> сообщение для пользователя.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is позволяет сравнивать FieldErrors с ErrValidation через errors.Is.
func (f FieldErrors) Is(target error) bool {
	return target == ErrValidation
}

// MinimumWithdrawalError сумма вывода меньше минимальной для тарифа пользователя.
type MinimumWithdrawalError struct {
	Minimum int64
}

func (e *MinimumWithdrawalError) Error() string {
	return fmt.Sprintf("Minimum withdrawal amount is Ksh %d", e.Minimum)
}

// Is сопоставляет ошибку с ErrBelowMinimumWithdrawal.
func (e *MinimumWithdrawalError) Is(target error) bool {
	return target == ErrBelowMinimumWithdrawal
}
