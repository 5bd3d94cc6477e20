// Package complete реализует HTTP-обработчик отправки ответов на опрос.
//
// Прохождение записывается и награда начисляется одной транзакцией,
// поэтому повторная отправка того же опроса получает 409 и не меняет баланс.
package complete

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Service описывает интерфейс завершения опроса.
type Service interface {
	Submit(ctx context.Context, profileID, surveyID string, answers map[string]string) (*models.Completion, error)
}

// Handler обрабатывает POST /surveys/{id}/complete.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP принимает ответы, записывает прохождение и начисляет награду.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.surveys.complete"

	profileID := middlewarectx.ProfileID(r.Context())
	surveyID := chi.URLParam(r, "id")
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
		slog.String("survey_id", surveyID),
	)

	var req models.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	completion, err := h.service.Submit(r.Context(), profileID, surveyID, req.Answers)
	if err != nil {
		log.Info("survey submission rejected", sl.Err(err))
		status, resp := response.FromError(err, "could not complete survey")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("survey completed", slog.Int64("credited", completion.Credited))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"completion": completion,
	}))
}
