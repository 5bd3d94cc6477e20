package models

import "time"

// CompletionRecord запись о прохождении опроса пользователем.
// Для пары (пользователь, опрос) существует не более одной записи.
type CompletionRecord struct {
	Answers     map[string]string `json:"answers"`
	CompletedAt time.Time         `json:"completedAt"`
}

// Ledger документ журнала прохождений одного профиля: userID -> surveyID -> запись.
type Ledger map[string]map[string]CompletionRecord

// Completion результат объединённой операции «отметить и начислить».
type Completion struct {
	SurveyID string           `json:"surveyId"`
	Record   CompletionRecord `json:"record"`
	Credited int64            `json:"credited"`
	User     User             `json:"user"`
	Version  int64            `json:"version"`
}
