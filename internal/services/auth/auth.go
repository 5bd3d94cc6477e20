// Package auth отвечает за регистрацию, вход и выход пользователей профиля,
// а также за вход администратора.
//
// Учётные записи хранятся в реестре (PostgreSQL), а вошедший пользователь
// становится пользователем сессии профиля в Redis. Вход и выход сдвигают
// счётчик auth:version, чтобы другие клиенты профиля перечитали сессию.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/lib/jwt"
	"github.com/magabrotheeeer/pesapoll/internal/lib/password"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// AccountRepository реестр зарегистрированных учётных записей.
type AccountRepository interface {
	CreateUser(ctx context.Context, account models.Account) error
	GetUserByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Sessions пользователь сессии профиля.
type Sessions interface {
	GetUser(ctx context.Context, profileID string) (*models.User, error)
	Replace(ctx context.Context, profileID string, user models.User) error
	Key(profileID string) string
}

// Notifier рассылает уведомления об изменениях и доменные события.
type Notifier interface {
	Changed(ctx context.Context, profileID, scope string, version int64)
	Emit(ctx context.Context, e events.Event)
}

// Service сервис учётных записей.
type Service struct {
	log           *slog.Logger
	store         *kv.Store
	accounts      AccountRepository
	sessions      Sessions
	notifier      Notifier
	jwtMaker      jwt.Maker
	adminPassword string
	now           func() time.Time
}

// New создаёт сервис учётных записей.
func New(log *slog.Logger, store *kv.Store, accounts AccountRepository, sessions Sessions,
	notifier Notifier, jwtMaker jwt.Maker, adminPassword string) *Service {
	return &Service{
		log:           log,
		store:         store,
		accounts:      accounts,
		sessions:      sessions,
		notifier:      notifier,
		jwtMaker:      jwtMaker,
		adminPassword: adminPassword,
		now:           time.Now,
	}
}

// ValidateRegistration проверяет форму регистрации и возвращает models.FieldErrors
// со всеми найденными проблемами.
func ValidateRegistration(req models.RegisterRequest) error {
	errs := models.FieldErrors{}
	if strings.TrimSpace(req.Name) == "" {
		errs["name"] = "Full name is required."
	}
	if !emailRe.MatchString(strings.TrimSpace(req.Email)) {
		errs["email"] = "Enter a valid email address."
	}
	if utf8.RuneCountInString(req.Password) < password.MinLength {
		errs["password"] = "Password must be at least 6 characters."
	}
	if req.Confirm != req.Password {
		errs["confirm"] = "Passwords do not match."
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Register создаёт учётную запись и делает её пользователем сессии профиля.
func (s *Service) Register(ctx context.Context, profileID string, req models.RegisterRequest) (*models.User, error) {
	const op = "auth.Register"
	if err := ValidateRegistration(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := password.GetHash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	account := models.Account{
		User: models.User{
			ID:        uuid.NewString(),
			Name:      strings.TrimSpace(req.Name),
			Email:     strings.ToLower(strings.TrimSpace(req.Email)),
			Plan:      models.PlanFree,
			Tier:      models.TierNone,
			Role:      models.RoleUser,
			Referral:  strings.TrimSpace(req.Referral),
			CreatedAt: s.now().UTC(),
		},
		PasswordHash: hash,
	}
	if err := s.accounts.CreateUser(ctx, account); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.startSession(ctx, profileID, account.User); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user registered", sl.Profile(profileID), slog.String("user_id", account.ID))
	s.notifier.Emit(ctx, events.Event{
		Type:      events.TypeUserRegistered,
		ProfileID: profileID,
		UserID:    account.ID,
	})
	u := account.User
	return &u, nil
}

// Login проверяет email и пароль и делает учётную запись пользователем сессии.
// Неизвестный email и неверный пароль неразличимы: models.ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, profileID string, req models.LoginRequest) (*models.User, error) {
	const op = "auth.Login"

	account, err := s.accounts.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := password.CompareHash(account.PasswordHash, req.Password); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.startSession(ctx, profileID, account.User); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user logged in", sl.Profile(profileID), slog.String("user_id", account.ID))
	u := account.User
	return &u, nil
}

func (s *Service) startSession(ctx context.Context, profileID string, user models.User) error {
	if err := s.sessions.Replace(ctx, profileID, user); err != nil {
		return err
	}
	_, err := s.bump(ctx, profileID, s.store.Key(profileID, kv.KeyAuthVersion), events.ScopeAuth)
	return err
}

// Logout удаляет пользователя сессии и флаг администратора,
// затем сдвигает версии auth и surveys.
func (s *Service) Logout(ctx context.Context, profileID string) error {
	const op = "auth.Logout"

	authKey := s.store.Key(profileID, kv.KeyAuthVersion)
	surveysKey := s.store.Key(profileID, kv.KeySurveysVersion)
	keys := []string{s.sessions.Key(profileID), s.store.Key(profileID, kv.KeyAdmin), authKey, surveysKey}

	var authVersion, surveysVersion int64
	err := s.store.Update(ctx, keys, func(tx *kv.Tx) error {
		tx.Delete(keys[0])
		tx.Delete(keys[1])

		now := s.now()
		var err error
		if authVersion, err = tx.BumpVersion(authKey, now); err != nil {
			return err
		}
		surveysVersion, err = tx.BumpVersion(surveysKey, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("logged out", sl.Profile(profileID))
	s.notifier.Changed(ctx, profileID, events.ScopeAuth, authVersion)
	s.notifier.Changed(ctx, profileID, events.ScopeSurveys, surveysVersion)
	return nil
}

// AdminLogin сверяет пароль администратора, ставит флаг администратора
// профиля и возвращает подписанный токен с ролью admin.
func (s *Service) AdminLogin(ctx context.Context, profileID, pass string) (string, error) {
	const op = "auth.AdminLogin"

	if s.adminPassword == "" || subtle.ConstantTimeCompare([]byte(pass), []byte(s.adminPassword)) != 1 {
		s.log.Warn("admin login rejected", sl.Profile(profileID))
		return "", fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
	}

	token, err := s.jwtMaker.GenerateToken(profileID, models.RoleAdmin)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	adminKey := s.store.Key(profileID, kv.KeyAdmin)
	authKey := s.store.Key(profileID, kv.KeyAuthVersion)
	var version int64
	err = s.store.Update(ctx, []string{adminKey, authKey}, func(tx *kv.Tx) error {
		if err := tx.Set(adminKey, true); err != nil {
			return err
		}
		var err error
		version, err = tx.BumpVersion(authKey, s.now())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("admin logged in", sl.Profile(profileID))
	s.notifier.Changed(ctx, profileID, events.ScopeAuth, version)
	return token, nil
}

// IsAdmin сообщает, является ли профиль администратором: роль пользователя
// сессии admin или установлен флаг администратора.
func (s *Service) IsAdmin(ctx context.Context, profileID string) (bool, error) {
	const op = "auth.IsAdmin"

	u, err := s.sessions.GetUser(ctx, profileID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if u.Role == models.RoleAdmin {
		return true, nil
	}

	var flag bool
	_, err = s.store.Get(ctx, s.store.Key(profileID, kv.KeyAdmin), &flag)
	if errors.Is(err, kv.ErrCorrupt) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return flag, nil
}

// AuthVersion возвращает счётчик версии сессии профиля. 0, если сессия не менялась.
func (s *Service) AuthVersion(ctx context.Context, profileID string) (int64, error) {
	const op = "auth.AuthVersion"
	var v int64
	_, err := s.store.Get(ctx, s.store.Key(profileID, kv.KeyAuthVersion), &v)
	if errors.Is(err, kv.ErrCorrupt) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func (s *Service) bump(ctx context.Context, profileID, key, scope string) (int64, error) {
	var version int64
	err := s.store.Update(ctx, []string{key}, func(tx *kv.Tx) error {
		var err error
		version, err = tx.BumpVersion(key, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	s.notifier.Changed(ctx, profileID, scope, version)
	return version, nil
}
