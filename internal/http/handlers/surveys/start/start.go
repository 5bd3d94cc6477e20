// Package start реализует HTTP-обработчик начала прохождения опроса.
//
// Обработчик ничего не записывает: он проверяет, что опрос можно пройти,
// и возвращает его вопросы.
package start

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
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Service описывает интерфейс начала опроса.
type Service interface {
	Start(ctx context.Context, profileID, surveyID string) (*models.Survey, error)
}

// Handler обрабатывает POST /surveys/{id}/start.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP проверяет повторное прохождение, тариф и дневной лимит.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.surveys.start"

	profileID := middlewarectx.ProfileID(r.Context())
	surveyID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
		slog.String("survey_id", surveyID),
	)

	sv, err := h.service.Start(r.Context(), profileID, surveyID)
	if err != nil {
		log.Info("survey start rejected", sl.Err(err))
		status, resp := response.FromError(err, "could not start survey")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"survey": sv,
	}))
}
