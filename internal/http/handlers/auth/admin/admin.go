// Package admin реализует HTTP-обработчик входа администратора по паролю.
//
// При успехе профиль получает флаг администратора, а клиент получает токен
// для маршрутов /admin.
package admin

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

// Service описывает интерфейс входа администратора.
type Service interface {
	AdminLogin(ctx context.Context, profileID, password string) (string, error)
}

// Handler обрабатывает вход администратора.
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

// ServeHTTP проверяет пароль администратора и возвращает токен.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.auth.admin"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	var req models.AdminLoginRequest
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

	token, err := h.service.AdminLogin(r.Context(), profileID, req.Password)
	if err != nil {
		log.Warn("admin login failed", sl.Err(err))
		status, resp := response.FromError(err, "admin login failed")
		if status == http.StatusUnauthorized {
			resp = response.Error("Invalid admin password.")
		}
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("admin login success")
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"token": token,
		"role":  models.RoleAdmin,
	}))
}
