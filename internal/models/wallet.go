package models

import "time"

// Withdrawal запись о выводе средств.
type Withdrawal struct {
	ID      int64     `json:"id"`
	Amount  int64     `json:"amount"`
	DateISO time.Time `json:"dateISO"`
}

// Статусы транзакций кошелька.
const (
	TxStatusEarned    = "Earned"
	TxStatusCompleted = "Completed"
)

// Transaction строка истории кошелька: заработок за опрос или вывод средств.
type Transaction struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	DateISO time.Time `json:"dateISO"`
	Amount  int64     `json:"amount"`
	Status  string    `json:"status"`
}

// WalletSummary сводка кошелька пользователя.
type WalletSummary struct {
	UserID          string        `json:"userId"`
	Balance         int64         `json:"balance"`
	AccountType     string        `json:"accountType"`
	SurveysPerDay   int           `json:"surveysPerDay"`
	MinWithdrawal   int64         `json:"minWithdrawal"`
	Transactions    []Transaction `json:"transactions"`
	EarningsWeekday [7]int64      `json:"earningsWeekday"`
}

// WithdrawRequest запрос на вывод средств.
type WithdrawRequest struct {
	Amount int64 `json:"amount"`
}
