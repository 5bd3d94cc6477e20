// Package register реализует HTTP-обработчик регистрации пользователя.
//
// Handler декодирует форму регистрации и передаёт её сервису учётных записей.
// Ошибки полей формы возвращаются в поле fields ответа, чтобы клиент мог
// показать их рядом с соответствующими полями.
package register

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Service описывает интерфейс бизнес-логики регистрации.
type Service interface {
	Register(ctx context.Context, profileID string, req models.RegisterRequest) (*models.User, error)
}

// Handler обрабатывает HTTP-запросы на регистрацию.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP регистрирует пользователя и делает его пользователем сессии профиля.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.register"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	user, err := h.service.Register(r.Context(), profileID, req)
	if err != nil {
		log.Error("registration failed", sl.Err(err))
		status, resp := response.FromError(err, "Failed to create account. Please try again.")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("user registered", slog.String("user_id", user.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user,
	}))
}
