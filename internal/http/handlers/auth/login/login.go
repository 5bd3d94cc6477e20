// Package login реализует HTTP-обработчик входа пользователя по email и паролю.
package login

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/models"
)

// Service описывает интерфейс бизнес-логики входа.
type Service interface {
	Login(ctx context.Context, profileID string, req models.LoginRequest) (*models.User, error)
}

// Handler обрабатывает HTTP-запросы для авторизации.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP проверяет учётные данные и заменяет пользователя сессии профиля.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.login"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	var req models.LoginRequest
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

	user, err := h.service.Login(r.Context(), profileID, req)
	if err != nil {
		log.Warn("login failed", sl.Err(err))
		status, resp := response.FromError(err, "login failed")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("login success", slog.String("user_id", user.ID))
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"user": user,
	}))
}
