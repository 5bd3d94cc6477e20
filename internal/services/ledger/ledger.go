// Package ledger ведёт журнал прохождений опросов и гарантирует, что пара
// (пользователь, опрос) завершается не более одного раза.
//
// Журнал профиля хранится одним документом userID -> surveyID -> запись.
// Все изменения выполняются транзакциями kv.Store.Update, поэтому два клиента
// одного профиля не могут создать две записи или начислить награду дважды.
// Каждое изменение сдвигает счётчик версии и публикует уведомление.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/metrics"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/services/identity"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

// Users источник текущего пользователя профиля.
type Users interface {
	GetUser(ctx context.Context, profileID string) (*models.User, error)
	Key(profileID string) string
}

// Notifier рассылает уведомления об изменениях и доменные события.
type Notifier interface {
	Changed(ctx context.Context, profileID, scope string, version int64)
	Emit(ctx context.Context, e events.Event)
}

// Check дополнительная проверка, выполняемая внутри транзакции Complete
// над актуальным пользователем и его записями.
type Check func(user models.User, records map[string]models.CompletionRecord, now time.Time) error

// Service журнал прохождений.
type Service struct {
	log      *slog.Logger
	store    *kv.Store
	users    Users
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New создаёт журнал. m может быть nil.
func New(log *slog.Logger, store *kv.Store, users Users, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		log:      log,
		store:    store,
		users:    users,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// Key ключ документа журнала профиля.
func (s *Service) Key(profileID string) string {
	return s.completionsKey(profileID)
}

func (s *Service) completionsKey(profileID string) string {
	return s.store.Key(profileID, kv.KeyCompletions)
}

func (s *Service) versionKey(profileID string) string {
	return s.store.Key(profileID, kv.KeySurveysVersion)
}

// readLedger читает журнал профиля. Испорченный документ считается пустым.
func (s *Service) readLedger(ctx context.Context, profileID string) (models.Ledger, error) {
	var l models.Ledger
	_, err := s.store.Get(ctx, s.completionsKey(profileID), &l)
	if errors.Is(err, kv.ErrCorrupt) {
		s.log.Warn("completions document is corrupt, treating as empty", sl.Profile(profileID), sl.Err(err))
		return models.Ledger{}, nil
	}
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = models.Ledger{}
	}
	return l, nil
}

// FromTx читает журнал внутри транзакции. Испорченный или отсутствующий документ
// читается как пустой журнал.
func FromTx(tx *kv.Tx, key string) (models.Ledger, error) {
	var l models.Ledger
	_, err := tx.Get(key, &l)
	if err != nil && !errors.Is(err, kv.ErrCorrupt) {
		return nil, err
	}
	if l == nil || errors.Is(err, kv.ErrCorrupt) {
		l = models.Ledger{}
	}
	return l, nil
}

// Records возвращает записи о прохождениях пользователя.
func (s *Service) Records(ctx context.Context, profileID, userID string) (map[string]models.CompletionRecord, error) {
	const op = "ledger.Records"
	l, err := s.readLedger(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make(map[string]models.CompletionRecord, len(l[userID]))
	maps.Copy(out, l[userID])
	return out, nil
}

// GetCompletedIDs возвращает множество опросов, пройденных пользователем.
func (s *Service) GetCompletedIDs(ctx context.Context, profileID, userID string) (map[string]struct{}, error) {
	const op = "ledger.GetCompletedIDs"
	l, err := s.readLedger(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids := make(map[string]struct{}, len(l[userID]))
	for id := range l[userID] {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// HasCompleted сообщает, есть ли запись для пары (userID, surveyID).
func (s *Service) HasCompleted(ctx context.Context, profileID, userID, surveyID string) (bool, error) {
	const op = "ledger.HasCompleted"
	if userID == "" || surveyID == "" {
		return false, nil
	}
	l, err := s.readLedger(ctx, profileID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	_, ok := l[userID][surveyID]
	return ok, nil
}

// CanStartSurvey сообщает, может ли текущий пользователь профиля начать опрос.
func (s *Service) CanStartSurvey(ctx context.Context, profileID, surveyID string) (bool, error) {
	const op = "ledger.CanStartSurvey"
	u, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	done, err := s.HasCompleted(ctx, profileID, u.ID, surveyID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return !done, nil
}

// EnsureNotCompleted возвращает *AlreadyCompletedError, если текущий пользователь уже прошёл опрос.
func (s *Service) EnsureNotCompleted(ctx context.Context, profileID, surveyID string) error {
	const op = "ledger.EnsureNotCompleted"
	u, err := s.users.GetUser(ctx, profileID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	done, err := s.HasCompleted(ctx, profileID, u.ID, surveyID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if done {
		s.metrics.Rejected("already_completed")
		return &AlreadyCompletedError{UserID: u.ID, SurveyID: surveyID}
	}
	return nil
}

// MarkCompleted создаёт запись о прохождении без начисления награды.
// Существующая запись остаётся нетронутой, версия в этом случае не меняется.
func (s *Service) MarkCompleted(ctx context.Context, profileID, userID, surveyID string, answers map[string]string) error {
	const op = "ledger.MarkCompleted"
	if userID == "" || surveyID == "" {
		return nil
	}

	key, vkey := s.completionsKey(profileID), s.versionKey(profileID)
	var version int64
	err := s.store.Update(ctx, []string{key, vkey}, func(tx *kv.Tx) error {
		version = 0
		l, err := FromTx(tx, key)
		if err != nil {
			return err
		}
		if _, ok := l[userID][surveyID]; ok {
			return nil
		}
		now := s.now()
		addRecord(l, userID, surveyID, answers, now)
		if err := tx.Set(key, l); err != nil {
			return err
		}
		version, err = tx.BumpVersion(vkey, now)
		return err
	})
	if err != nil {
		s.countConflict(err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if version != 0 {
		s.notifier.Changed(ctx, profileID, events.ScopeSurveys, version)
	}
	return nil
}

// Complete в одной транзакции проверяет, что опрос не пройден, создаёт запись,
// начисляет награду survey.Payout на баланс и сдвигает версию.
// checks выполняются внутри транзакции до записи.
func (s *Service) Complete(ctx context.Context, profileID string, survey models.Survey, answers map[string]string, checks ...Check) (*models.Completion, error) {
	const op = "ledger.Complete"
	userKey := s.users.Key(profileID)
	key, vkey := s.completionsKey(profileID), s.versionKey(profileID)

	var result models.Completion
	err := s.store.Update(ctx, []string{userKey, key, vkey}, func(tx *kv.Tx) error {
		now := s.now()
		user, _, err := identity.Resolve(tx, userKey, now)
		if err != nil {
			return err
		}
		l, err := FromTx(tx, key)
		if err != nil {
			return err
		}
		if _, ok := l[user.ID][survey.ID]; ok {
			return &AlreadyCompletedError{UserID: user.ID, SurveyID: survey.ID}
		}
		for _, check := range checks {
			if err := check(user, l[user.ID], now); err != nil {
				return err
			}
		}

		if survey.Payout < 0 || survey.Payout > models.MaxPayout || user.Balance > math.MaxInt64-survey.Payout {
			return fmt.Errorf("survey %s payout %d: %w", survey.ID, survey.Payout, models.ErrPayoutOutOfRange)
		}

		record := addRecord(l, user.ID, survey.ID, answers, now)
		if err := tx.Set(key, l); err != nil {
			return err
		}

		user.Balance += survey.Payout
		user.UpdatedAt = now.UTC()
		if err := tx.Set(userKey, user); err != nil {
			return err
		}

		version, err := tx.BumpVersion(vkey, now)
		if err != nil {
			return err
		}
		result = models.Completion{
			SurveyID: survey.ID,
			Record:   record,
			Credited: survey.Payout,
			User:     user,
			Version:  version,
		}
		return nil
	})
	if err != nil {
		var already *AlreadyCompletedError
		if errors.As(err, &already) {
			s.metrics.Rejected("already_completed")
		}
		s.countConflict(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.Completed(result.Credited)
	s.log.Info("survey completed",
		sl.Profile(profileID),
		slog.String("user_id", result.User.ID),
		slog.String("survey_id", survey.ID),
		slog.Int64("credited", result.Credited),
	)
	s.notifier.Changed(ctx, profileID, events.ScopeSurveys, result.Version)
	s.notifier.Emit(ctx, events.Event{
		Type:      events.TypeSurveyCompleted,
		ProfileID: profileID,
		UserID:    result.User.ID,
		SurveyID:  survey.ID,
		Amount:    result.Credited,
		Version:   result.Version,
		At:        result.Record.CompletedAt,
	})
	return &result, nil
}

// ResetCompletions удаляет все записи пользователя. Если записей нет, ничего не меняется.
// Возвращает число удалённых записей.
func (s *Service) ResetCompletions(ctx context.Context, profileID, userID string) (int, error) {
	const op = "ledger.ResetCompletions"
	key, vkey := s.completionsKey(profileID), s.versionKey(profileID)

	var removed int
	var version int64
	err := s.store.Update(ctx, []string{key, vkey}, func(tx *kv.Tx) error {
		removed, version = 0, 0
		l, err := FromTx(tx, key)
		if err != nil {
			return err
		}
		removed = len(l[userID])
		if removed == 0 {
			return nil
		}
		delete(l, userID)
		if len(l) == 0 {
			tx.Delete(key)
		} else if err := tx.Set(key, l); err != nil {
			return err
		}
		version, err = tx.BumpVersion(vkey, s.now())
		return err
	})
	if err != nil {
		s.countConflict(err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if removed == 0 {
		return 0, nil
	}

	s.log.Info("completions reset", sl.Profile(profileID), slog.String("user_id", userID), slog.Int("removed", removed))
	s.notifier.Changed(ctx, profileID, events.ScopeSurveys, version)
	s.notifier.Emit(ctx, events.Event{
		Type:      events.TypeCompletionsReset,
		ProfileID: profileID,
		UserID:    userID,
		Version:   version,
	})
	return removed, nil
}

// Version возвращает текущее значение счётчика версии журнала. 0, если журнал не менялся.
func (s *Service) Version(ctx context.Context, profileID string) (int64, error) {
	const op = "ledger.Version"
	var v int64
	_, err := s.store.Get(ctx, s.versionKey(profileID), &v)
	if errors.Is(err, kv.ErrCorrupt) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func (s *Service) countConflict(err error) {
	if errors.Is(err, kv.ErrConflict) {
		s.metrics.Conflict()
	}
}

func addRecord(l models.Ledger, userID, surveyID string, answers map[string]string, now time.Time) models.CompletionRecord {
	if l[userID] == nil {
		l[userID] = map[string]models.CompletionRecord{}
	}
	copied := make(map[string]string, len(answers))
	maps.Copy(copied, answers)
	record := models.CompletionRecord{Answers: copied, CompletedAt: now.UTC()}
	l[userID][surveyID] = record
	return record
}
