// Package identity хранит текущего пользователя профиля.
//
// Если пользователя нет или документ испорчен, выдаётся гость с новым
// идентификатором, и он сохраняется, чтобы последующие чтения видели того же гостя.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

// AccountMirror реестр зарегистрированных пользователей, куда дублируются изменения.
type AccountMirror interface {
	UpdateUser(ctx context.Context, user models.User) error
}

// Service хранилище текущего пользователя профиля.
type Service struct {
	log    *slog.Logger
	store  *kv.Store
	mirror AccountMirror
	now    func() time.Time
}

// New создаёт сервис. mirror может быть nil.
func New(log *slog.Logger, store *kv.Store, mirror AccountMirror) *Service {
	return &Service{
		log:    log,
		store:  store,
		mirror: mirror,
		now:    time.Now,
	}
}

// Key ключ документа пользователя профиля.
func (s *Service) Key(profileID string) string {
	return s.store.Key(profileID, kv.KeyUser)
}

// NewGuest создаёт гостя с новым идентификатором.
func NewGuest(now time.Time) models.User {
	return models.User{
		ID:        uuid.NewString(),
		Name:      models.GuestName,
		Plan:      models.PlanFree,
		Tier:      models.TierNone,
		Balance:   0,
		CreatedAt: now.UTC(),
	}
}

// Resolve читает пользователя внутри транзакции. Отсутствующий, испорченный
// или безымянный документ заменяется новым гостем, запись гостя ставится в очередь tx.
// Второй результат сообщает, был ли выдан гость.
func Resolve(tx *kv.Tx, key string, now time.Time) (models.User, bool, error) {
	var u models.User
	found, err := tx.Get(key, &u)
	if err != nil && !errors.Is(err, kv.ErrCorrupt) {
		return models.User{}, false, err
	}
	if found && u.ID != "" {
		return normalize(u), false, nil
	}
	guest := NewGuest(now)
	if err := tx.Set(key, guest); err != nil {
		return models.User{}, false, err
	}
	return guest, true, nil
}

func normalize(u models.User) models.User {
	if u.Plan == "" {
		u.Plan = models.PlanFree
	}
	if u.Tier == "" {
		u.Tier = models.TierNone
	}
	if u.Balance < 0 {
		u.Balance = 0
	}
	return u
}

// GetUser возвращает текущего пользователя профиля, при необходимости выдавая гостя.
// Ошибка возвращается только при недоступности хранилища.
func (s *Service) GetUser(ctx context.Context, profileID string) (*models.User, error) {
	const op = "identity.GetUser"
	key := s.Key(profileID)

	var u models.User
	found, err := s.store.Get(ctx, key, &u)
	switch {
	case errors.Is(err, kv.ErrCorrupt):
		s.log.Warn("user document is corrupt, issuing guest", sl.Profile(profileID), sl.Err(err))
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case found && u.ID != "":
		u = normalize(u)
		return &u, nil
	}

	var issued bool
	err = s.store.Update(ctx, []string{key}, func(tx *kv.Tx) error {
		var err error
		u, issued, err = Resolve(tx, key, s.now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if issued {
		s.log.Info("issued guest", sl.Profile(profileID), slog.String("user_id", u.ID))
	}
	return &u, nil
}

// SetUser применяет патч к текущему пользователю и сохраняет результат.
// Отрицательный баланс отклоняется с models.ErrNegativeBalance.
func (s *Service) SetUser(ctx context.Context, profileID string, patch models.UserPatch) (*models.User, error) {
	const op = "identity.SetUser"
	if patch.Balance != nil && *patch.Balance < 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNegativeBalance)
	}

	key := s.Key(profileID)
	var updated models.User
	err := s.store.Update(ctx, []string{key}, func(tx *kv.Tx) error {
		now := s.now()
		current, _, err := Resolve(tx, key, now)
		if err != nil {
			return err
		}
		updated = patch.Apply(current)
		updated.UpdatedAt = now.UTC()
		return tx.Set(key, updated)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.Mirror(ctx, profileID, updated)
	return &updated, nil
}

// Replace устанавливает пользователя сессии, например после входа.
func (s *Service) Replace(ctx context.Context, profileID string, user models.User) error {
	const op = "identity.Replace"
	if err := s.store.Set(ctx, s.Key(profileID), normalize(user)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Clear удаляет пользователя сессии. Следующее чтение выдаст нового гостя.
func (s *Service) Clear(ctx context.Context, profileID string) error {
	const op = "identity.Clear"
	if err := s.store.Delete(ctx, s.Key(profileID)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Mirror дублирует зарегистрированного пользователя в реестр аккаунтов.
// Ошибка реестра только логируется.
func (s *Service) Mirror(ctx context.Context, profileID string, u models.User) {
	if s.mirror == nil || !u.Registered() {
		return
	}
	if err := s.mirror.UpdateUser(ctx, u); err != nil {
		s.log.Warn("failed to mirror user", sl.Profile(profileID), slog.String("user_id", u.ID), sl.Err(err))
	}
}
