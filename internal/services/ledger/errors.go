package ledger

import "github.com/magabrotheeeer/pesapoll/internal/models"

// AlreadyCompletedMessage сообщение для пользователя при попытке пройти опрос повторно.
const AlreadyCompletedMessage = "This survey is already completed and cannot be taken again."

// AlreadyCompletedError опрос уже пройден пользователем.
// Совместима с models.ErrAlreadyCompleted через errors.Is.
type AlreadyCompletedError struct {
	UserID   string
	SurveyID string
}

func (e *AlreadyCompletedError) Error() string {
	return AlreadyCompletedMessage
}

// Is сопоставляет ошибку с models.ErrAlreadyCompleted.
func (e *AlreadyCompletedError) Is(target error) bool {
	return target == models.ErrAlreadyCompleted
}
