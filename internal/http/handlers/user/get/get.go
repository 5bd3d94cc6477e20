// Package get реализует HTTP-обработчик чтения текущего пользователя профиля.
//
// Если пользователя ещё нет, сервис выдаёт гостя, поэтому ответ всегда содержит пользователя.
package get

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Service источник пользователя сессии.
type Service interface {
	GetUser(ctx context.Context, profileID string) (*models.User, error)
}

// AdminChecker сообщает, вошёл ли профиль как администратор.
type AdminChecker interface {
	IsAdmin(ctx context.Context, profileID string) (bool, error)
}

// Handler обрабатывает GET /me.
type Handler struct {
	log     *slog.Logger
	service Service
	admins  AdminChecker
}

// New создает новый Handler.
func New(log *slog.Logger, service Service, admins AdminChecker) *Handler {
	return &Handler{log: log, service: service, admins: admins}
}

// ServeHTTP возвращает пользователя, его тариф и признак администратора.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.user.get"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	user, err := h.service.GetUser(r.Context(), profileID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		status, resp := response.FromError(err, "could not read user")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	isAdmin, err := h.admins.IsAdmin(r.Context(), profileID)
	if err != nil {
		log.Warn("failed to check admin flag", sl.Err(err))
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user":    user,
		"plan":    models.PlanFor(user.Tier),
		"isAdmin": isAdmin,
	}))
}
