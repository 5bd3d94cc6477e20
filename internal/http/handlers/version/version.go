// Package version реализует HTTP-обработчик счётчиков версий профиля.
//
// Клиент сравнивает счётчики с сохранёнными и перечитывает данные, если они сдвинулись.
package version

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

// Surveys источник версии журнала прохождений.
type Surveys interface {
	Version(ctx context.Context, profileID string) (int64, error)
}

// Auth источник версии сессии.
type Auth interface {
	AuthVersion(ctx context.Context, profileID string) (int64, error)
}

// Handler обрабатывает GET /version.
type Handler struct {
	log     *slog.Logger
	surveys Surveys
	auth    Auth
}

// New создает новый Handler.
func New(log *slog.Logger, surveys Surveys, auth Auth) *Handler {
	return &Handler{log: log, surveys: surveys, auth: auth}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.version"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	surveys, err := h.surveys.Version(r.Context(), profileID)
	if err != nil {
		log.Error("failed to read surveys version", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read version"))
		return
	}
	auth, err := h.auth.AuthVersion(r.Context(), profileID)
	if err != nil {
		log.Error("failed to read auth version", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read version"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"surveys": surveys,
		"auth":    auth,
	}))
}
