// Package models содержит доменные структуры PesaPoll: пользователя профиля,
// опросы каталога, записи о прохождении, выводы средств и тарифные планы.
// Структуры используются в бизнес‑логике и при работе с хранилищами.
package models

import "time"

// Значения поля Plan.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// Значения поля Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// GuestName имя, которое получает автоматически созданный гость.
const GuestName = "Guest"

// User представляет пользователя одного профиля браузера: гостя или зарегистрированного.
type User struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Plan           string            `json:"plan"`
	Tier           Tier              `json:"tier"`
	Role           string            `json:"role,omitempty"`
	Balance        int64             `json:"balance"`
	Referral       string            `json:"referral,omitempty"`
	LoyaltyPoints  int64             `json:"loyaltyPoints,omitempty"`
	PaymentDetails *PaymentDetails   `json:"paymentDetails,omitempty"`
	Subscription   *PlanSubscription `json:"subscription,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt,omitzero"`
}

// Registered сообщает, прошёл ли пользователь регистрацию (у гостя нет email).
func (u *User) Registered() bool {
	return u.Email != ""
}

// IsPremium сообщает, открыт ли пользователю доступ к премиальным опросам.
func (u *User) IsPremium() bool {
	return u.Plan == PlanPremium || u.Tier.Paid()
}

// PaymentDetails реквизиты M-Pesa для вывода средств.
type PaymentDetails struct {
	MpesaNumber string `json:"mpesaNumber" validate:"required,numeric,min=9,max=12"`
	MpesaName   string `json:"mpesaName" validate:"required"`
}

// PlanSubscription отметка об активации платного тарифа.
type PlanSubscription struct {
	Tier        Tier      `json:"tier"`
	Provider    string    `json:"provider"`
	Reference   string    `json:"reference,omitempty"`
	ActivatedAt time.Time `json:"activatedAt"`
}

// UserPatch описывает частичное обновление пользователя.
// nil-поле означает «не менять»; заполненные поля перезаписывают текущие значения.
type UserPatch struct {
	Name           *string           `json:"name,omitempty"`
	Email          *string           `json:"email,omitempty"`
	Plan           *string           `json:"plan,omitempty" validate:"omitempty,oneof=free premium"`
	Tier           *Tier             `json:"tier,omitempty" validate:"omitempty,oneof=none silver gold platinum"`
	Balance        *int64            `json:"balance,omitempty" validate:"omitempty,gte=0"`
	LoyaltyPoints  *int64            `json:"loyaltyPoints,omitempty" validate:"omitempty,gte=0"`
	PaymentDetails *PaymentDetails   `json:"paymentDetails,omitempty"`
	Subscription   *PlanSubscription `json:"subscription,omitempty"`
}

// Apply применяет патч к копии пользователя и возвращает результат.
func (p UserPatch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Plan != nil {
		u.Plan = *p.Plan
	}
	if p.Tier != nil {
		u.Tier = *p.Tier
	}
	if p.Balance != nil {
		u.Balance = *p.Balance
	}
	if p.LoyaltyPoints != nil {
		u.LoyaltyPoints = *p.LoyaltyPoints
	}
	if p.PaymentDetails != nil {
		details := *p.PaymentDetails
		u.PaymentDetails = &details
	}
	if p.Subscription != nil {
		sub := *p.Subscription
		u.Subscription = &sub
	}
	return u
}
