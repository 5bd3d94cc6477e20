// Package list реализует HTTP-обработчик списка опросов с отметками о прохождении.
package list

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

// Service описывает интерфейс получения списка опросов.
type Service interface {
	List(ctx context.Context, profileID string) ([]models.SurveyView, error)
}

// Handler обрабатывает GET /surveys.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP возвращает опросы каталога: сначала непройденные.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.surveys.list"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	views, err := h.service.List(r.Context(), profileID)
	if err != nil {
		log.Error("failed to list surveys", sl.Err(err))
		status, resp := response.FromError(err, "Failed to load surveys.")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Debug("surveys listed", slog.Int("count", len(views)))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"surveys": views,
	}))
}
