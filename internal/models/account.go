package models

// Account зарегистрированная учётная запись в реестре пользователей.
type Account struct {
	User
	PasswordHash string
}

// RegisterRequest данные формы регистрации. Поля проверяются сервисом auth,
// который возвращает сообщения для каждого поля формы.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
	Referral string `json:"referral,omitempty"`
}

// LoginRequest данные формы входа.
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AdminLoginRequest пароль администратора.
type AdminLoginRequest struct {
	Password string `json:"password" validate:"required"`
}

// CompleteRequest ответы на вопросы опроса: questionID -> выбранный вариант.
type CompleteRequest struct {
	Answers map[string]string `json:"answers" validate:"required"`
}
