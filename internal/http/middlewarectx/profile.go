// Package middlewarectx содержит HTTP middleware PesaPoll: определение профиля
// браузера по заголовку X-Profile-ID, проверку токена администратора
// и ограничение частоты запросов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/response"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// Profile: ключ идентификатора профиля в контексте
	Profile Key = "profile_id"
	// Role: ключ роли из токена администратора в контексте
	Role Key = "role"
)

// HeaderProfileID заголовок, в котором клиент передаёт идентификатор профиля.
const HeaderProfileID = "X-Profile-ID"

var profileRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ProfileMiddleware проверяет заголовок X-Profile-ID и кладёт профиль в контекст.
// Отсутствующий или некорректный профиль даёт 400.
func ProfileMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.ProfileMiddleware"

			profileID := r.Header.Get(HeaderProfileID)
			if !profileRe.MatchString(profileID) {
				log.Warn("missing or invalid profile id",
					slog.String("op", op),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.Error("missing or invalid "+HeaderProfileID+" header"))
				return
			}

			ctx := context.WithValue(r.Context(), Profile, profileID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileID возвращает профиль из контекста запроса или пустую строку.
func ProfileID(ctx context.Context) string {
	id, _ := ctx.Value(Profile).(string)
	return id
}

// WithProfile кладёт профиль в контекст. Используется в тестах обработчиков.
func WithProfile(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, Profile, profileID)
}
