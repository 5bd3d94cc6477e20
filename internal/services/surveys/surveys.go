// Package surveys реализует сценарий прохождения опроса: список с отметками
// о прохождении, старт и отправку ответов.
package surveys

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/metrics"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/services/ledger"
)

// Catalog источник опросов.
type Catalog interface {
	Load(ctx context.Context) ([]models.Survey, error)
	Find(ctx context.Context, surveyID string) (*models.Survey, error)
}

// Ledger журнал прохождений.
type Ledger interface {
	GetCompletedIDs(ctx context.Context, profileID, userID string) (map[string]struct{}, error)
	EnsureNotCompleted(ctx context.Context, profileID, surveyID string) error
	Records(ctx context.Context, profileID, userID string) (map[string]models.CompletionRecord, error)
	Complete(ctx context.Context, profileID string, survey models.Survey, answers map[string]string, checks ...ledger.Check) (*models.Completion, error)
}

// Users источник текущего пользователя.
type Users interface {
	GetUser(ctx context.Context, profileID string) (*models.User, error)
}

// Service сценарий прохождения опросов.
type Service struct {
	log     *slog.Logger
	catalog Catalog
	ledger  Ledger
	users   Users
	metrics *metrics.Metrics
	now     func() time.Time
}

// New создаёт сервис. m может быть nil.
func New(log *slog.Logger, catalog Catalog, l Ledger, users Users, m *metrics.Metrics) *Service {
	return &Service{
		log:     log,
		catalog: catalog,
		ledger:  l,
		users:   users,
		metrics: m,
		now:     time.Now,
	}
}

// List возвращает каталог с отметками о прохождении для текущего пользователя.
// Непройденные опросы идут первыми, в остальном порядок каталога сохраняется.
func (s *Service) List(ctx context.Context, profileID string) ([]models.SurveyView, error) {
	const op = "surveys.List"
	u, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	completed, err := s.ledger.GetCompletedIDs(ctx, profileID, u.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	catalog, err := s.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	views := make([]models.SurveyView, 0, len(catalog))
	for _, sv := range catalog {
		_, done := completed[sv.ID]
		views = append(views, Hydrate(sv, done))
	}
	slices.SortStableFunc(views, func(a, b models.SurveyView) int {
		return cmp.Compare(boolRank(a.Completed), boolRank(b.Completed))
	})
	return views, nil
}

// Hydrate строит представление опроса для интерфейса.
func Hydrate(sv models.Survey, completed bool) models.SurveyView {
	view := models.SurveyView{
		Survey:         sv,
		Title:          sv.DisplayTitle(),
		QuestionsCount: len(sv.Items),
		Completed:      completed,
		Status:         models.SurveyStatusAvailable,
		Locked:         completed,
	}
	if completed {
		reason := models.RetakeBlockedReason
		view.Status = models.SurveyStatusCompleted
		view.RetakeBlockedReason = &reason
	}
	return view
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start проверяет, что текущий пользователь может начать опрос, и возвращает его.
func (s *Service) Start(ctx context.Context, profileID, surveyID string) (*models.Survey, error) {
	const op = "surveys.Start"
	sv, err := s.preflight(ctx, profileID, surveyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sv, nil
}

// Submit проверяет ответы и атомарно фиксирует прохождение с начислением награды.
func (s *Service) Submit(ctx context.Context, profileID, surveyID string, answers map[string]string) (*models.Completion, error) {
	const op = "surveys.Submit"
	sv, err := s.preflight(ctx, profileID, surveyID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ValidateAnswers(*sv, answers); err != nil {
		s.metrics.Rejected("invalid_answers")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	completion, err := s.ledger.Complete(ctx, profileID, *sv, answers, premiumCheck(*sv), dailyLimitCheck)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return completion, nil
}

// preflight общие проверки старта и отправки: опрос существует, не пройден,
// доступен по тарифу и дневной лимит не исчерпан.
func (s *Service) preflight(ctx context.Context, profileID, surveyID string) (*models.Survey, error) {
	sv, err := s.catalog.Find(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.EnsureNotCompleted(ctx, profileID, surveyID); err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return nil, err
	}
	records, err := s.ledger.Records(ctx, profileID, u.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := premiumCheck(*sv)(*u, records, now); err != nil {
		s.metrics.Rejected("premium_required")
		s.log.Info("premium survey rejected", sl.Profile(profileID), slog.String("survey_id", surveyID))
		return nil, err
	}
	if err := dailyLimitCheck(*u, records, now); err != nil {
		s.metrics.Rejected("daily_limit")
		s.log.Info("daily limit reached", sl.Profile(profileID), slog.String("user_id", u.ID))
		return nil, err
	}
	return sv, nil
}

func premiumCheck(sv models.Survey) ledger.Check {
	return func(u models.User, _ map[string]models.CompletionRecord, _ time.Time) error {
		if sv.Premium && !u.IsPremium() {
			return models.ErrPremiumRequired
		}
		return nil
	}
}

// dailyLimitCheck сравнивает число прохождений за текущие сутки (UTC) с лимитом тарифа.
func dailyLimitCheck(u models.User, records map[string]models.CompletionRecord, now time.Time) error {
	limit := models.PlanFor(u.Tier).SurveysPerDay
	if CompletedOn(records, now) >= limit {
		return models.ErrDailyLimitReached
	}
	return nil
}

// CompletedOn считает прохождения в те же сутки UTC, что и day.
func CompletedOn(records map[string]models.CompletionRecord, day time.Time) int {
	y, m, d := day.UTC().Date()
	n := 0
	for _, r := range records {
		ry, rm, rd := r.CompletedAt.UTC().Date()
		if ry == y && rm == m && rd == d {
			n++
		}
	}
	return n
}

// ValidateAnswers проверяет, что на каждый вопрос дан ответ из его вариантов
// и нет ответов на несуществующие вопросы.
func ValidateAnswers(sv models.Survey, answers map[string]string) error {
	known := make(map[string]struct{}, len(sv.Items))
	for _, q := range sv.Items {
		known[q.ID] = struct{}{}
		answer, ok := answers[q.ID]
		if !ok {
			return fmt.Errorf("%w: question %s is not answered", models.ErrInvalidAnswers, q.ID)
		}
		if !q.HasOption(answer) {
			return fmt.Errorf("%w: %q is not an option of question %s", models.ErrInvalidAnswers, answer, q.ID)
		}
	}
	for id := range answers {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: unknown question %s", models.ErrInvalidAnswers, id)
		}
	}
	return nil
}
