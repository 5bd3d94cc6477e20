// Package logout реализует HTTP-обработчик выхода из сессии профиля.
package logout

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// Service описывает интерфейс бизнес-логики выхода.
type Service interface {
	Logout(ctx context.Context, profileID string) error
}

// Handler обрабатывает выход пользователя.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP очищает пользователя сессии и флаг администратора профиля.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.logout"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	if err := h.service.Logout(r.Context(), profileID); err != nil {
		log.Error("logout failed", sl.Err(err))
		status, resp := response.FromError(err, "logout failed")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("logged out")
	render.JSON(w, r, response.OK())
}
