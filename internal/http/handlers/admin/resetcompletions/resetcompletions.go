// Package resetcompletions реализует HTTP-обработчик сброса прохождений пользователя.
// Доступен только администратору профиля.
package resetcompletions

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// Service описывает интерфейс сброса журнала.
type Service interface {
	ResetCompletions(ctx context.Context, profileID, userID string) (int, error)
}

// Handler обрабатывает DELETE /admin/completions/{userId}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.resetcompletions"

	profileID := middlewarectx.ProfileID(r.Context())
	userID := chi.URLParam(r, "userId")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
		slog.String("user_id", userID),
	)

	if userID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("user id is required"))
		return
	}

	removed, err := h.service.ResetCompletions(r.Context(), profileID, userID)
	if err != nil {
		log.Error("failed to reset completions", sl.Err(err))
		status, resp := response.FromError(err, "could not reset completions")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("completions reset", slog.Int("removed", removed))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"removed": removed,
	}))
}
