package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DefaultCurrency валюта выплат, если каталог её не указал.
const DefaultCurrency = "ksh"

// MaxPayout наибольшая награда за опрос, которую принимает сервис.
const MaxPayout int64 = 1_000_000_000

// Question вопрос опроса с вариантами ответа.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// HasOption сообщает, входит ли ответ в список вариантов.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// Survey запись каталога опросов. Каталог принадлежит внешнему источнику,
// сервис только читает и кеширует его.
type Survey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description"`
	Payout      int64      `json:"payout"`
	Currency    string     `json:"currency"`
	Premium     bool       `json:"premium"`
	Status      string     `json:"status,omitempty"`
	Items       []Question `json:"items"`
}

// DisplayTitle возвращает название для отображения: name, затем title, затем "Survey".
func (s Survey) DisplayTitle() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Title != "" {
		return s.Title
	}
	return "Survey"
}

// rawSurvey принимает старые варианты полей каталога: reward вместо payout
// и questions (массив или число) вместо items.
type rawSurvey struct {
	ID          json.RawMessage `json:"id"`
	Name        string          `json:"name"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Payout      *float64        `json:"payout"`
	Reward      *float64        `json:"reward"`
	Currency    string          `json:"currency"`
	Premium     bool            `json:"premium"`
	Status      string          `json:"status"`
	Items       []Question      `json:"items"`
	Questions   json.RawMessage `json:"questions"`
}

// UnmarshalJSON разбирает опрос и приводит его к строгой форме.
func (s *Survey) UnmarshalJSON(data []byte) error {
	var raw rawSurvey
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := decodeID(raw.ID)
	if err != nil {
		return fmt.Errorf("survey id: %w", err)
	}
	if id == "" {
		return fmt.Errorf("survey without id")
	}

	items := raw.Items
	if items == nil && len(raw.Questions) > 0 && raw.Questions[0] == '[' {
		if err := json.Unmarshal(raw.Questions, &items); err != nil {
			return fmt.Errorf("survey %s questions: %w", id, err)
		}
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}

	var payout float64
	switch {
	case raw.Payout != nil:
		payout = *raw.Payout
	case raw.Reward != nil:
		payout = *raw.Reward
	}
	if math.IsNaN(payout) || payout < 0 {
		payout = 0
	}
	if payout > float64(MaxPayout) {
		return fmt.Errorf("survey %s payout %g: %w", id, payout, ErrPayoutOutOfRange)
	}

	currency := strings.ToLower(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	*s = Survey{
		ID:          id,
		Name:        raw.Name,
		Title:       raw.Title,
		Description: raw.Description,
		Payout:      int64(math.Round(payout)),
		Currency:    currency,
		Premium:     raw.Premium,
		Status:      raw.Status,
		Items:       items,
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Database форма ответа «вся база» внешнего источника.
type Database struct {
	Surveys []Survey `json:"surveys"`
}

// Статусы опроса для отображения.
const (
	SurveyStatusAvailable = "available"
	SurveyStatusCompleted = "completed"
)

// RetakeBlockedReason причина блокировки повторного прохождения.
const RetakeBlockedReason = "Already completed. Retakes are not allowed."

// SurveyView опрос каталога, дополненный статусом прохождения для текущего пользователя.
type SurveyView struct {
	Survey
	Title               string  `json:"title"`
	QuestionsCount      int     `json:"questionsCount"`
	Completed           bool    `json:"completed"`
	Status              string  `json:"status"`
	Locked              bool    `json:"locked"`
	RetakeBlockedReason *string `json:"retakeBlockedReason"`
}
