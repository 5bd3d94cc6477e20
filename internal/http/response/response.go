// Package response содержит вспомогательные типы и функции для формирования
// унифицированных JSON‑ответов HTTP‑обработчиков. Пакет упрощает возврат
// успешных ответов, ошибок и сообщений валидации в едином формате.
package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

// Response описывает стандартную структуру JSON‑ответа сервера.
// Поле Status: статус запроса ("OK" или "Error").
// Поле Error: текст ошибки (опционально, при неуспехе).
// Поле Fields: ошибки отдельных полей формы (опционально).
// Поле Data: данные ответа (опционально, при успехе).
type Response struct {
	Status string            `json:"status"`
	Error  string            `json:"error,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
	Data   any               `json:"data,omitempty"`
}

const (
	// StatusOK: значение статуса для успешного ответа.
	StatusOK = "OK"
	// StatusError: значение статуса для ответа с ошибкой.
	StatusError = "Error"
)

// StatusOKWithData возвращает успешный Response с переданными данными.
func StatusOKWithData(data any) Response {
	return Response{
		Status: StatusOK,
		Data:   data,
	}
}

// OK возвращает успешный Response без данных.
func OK() Response {
	return Response{Status: StatusOK}
}

// Error возвращает Response с ошибкой и переданным сообщением.
func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

// ValidationError формирует Response со статусом Error на основе ошибок валидации.
// Каждое нарушение формируется в человеко‑читаемый текст, объединённый через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be a valid email address", err.Field()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "min":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		case "oneof":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must be one of: %s", err.Field(), err.Param()))
		case "eqfield":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s must match %s", err.Field(), err.Param()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status: StatusError,
		Error:  strings.Join(errsMsgs, ", "),
	}
}

// FieldsError формирует Response с ошибками отдельных полей формы.
func FieldsError(fields models.FieldErrors) Response {
	return Response{
		Status: StatusError,
		Error:  "please fix the highlighted fields",
		Fields: fields,
	}
}

// FromError сопоставляет ошибку бизнес-логики HTTP-статусу и ответу.
// Неизвестные ошибки дают 500 с сообщением fallback.
func FromError(err error, fallback string) (int, Response) {
	var fields models.FieldErrors
	if errors.As(err, &fields) {
		return http.StatusBadRequest, FieldsError(fields)
	}
	var minimum *models.MinimumWithdrawalError
	if errors.As(err, &minimum) {
		return http.StatusUnprocessableEntity, Error(minimum.Error())
	}

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status, Error(m.msg)
		}
	}
	return http.StatusInternalServerError, Error(fallback)
}

var errorStatuses = []struct {
	err    error
	status int
	msg    string
}{
	{models.ErrAlreadyCompleted, http.StatusConflict, "This survey is already completed and cannot be taken again."},
	{models.ErrSurveyNotFound, http.StatusNotFound, "Survey not found."},
	{models.ErrPremiumRequired, http.StatusForbidden, "This survey is available on premium plans only."},
	{models.ErrDailyLimitReached, http.StatusTooManyRequests, "You have reached your daily survey limit."},
	{models.ErrInvalidAnswers, http.StatusUnprocessableEntity, "Please answer every question with one of its options."},
	{models.ErrCatalogUnavailable, http.StatusServiceUnavailable, "Failed to load surveys."},
	{models.ErrInvalidAmount, http.StatusUnprocessableEntity, "Please enter a valid amount."},
	{models.ErrInsufficientBalance, http.StatusUnprocessableEntity, "Insufficient balance."},
	{models.ErrNegativeBalance, http.StatusUnprocessableEntity, "Balance cannot be negative."},
	{models.ErrEmailTaken, http.StatusConflict, "Email already registered."},
	{models.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password."},
	{models.ErrUserNotFound, http.StatusNotFound, "User not found."},
	{kv.ErrConflict, http.StatusServiceUnavailable, "Too many concurrent updates, please retry."},
}
