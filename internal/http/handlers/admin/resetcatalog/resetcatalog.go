// Package resetcatalog реализует HTTP-обработчик сброса кеша каталога опросов.
// Следующее чтение каталога снова обратится к внешнему источнику.
package resetcatalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// Service кеш каталога.
type Service interface {
	Reset()
}

// Handler обрабатывает POST /admin/catalog/reset.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.service.Reset()
	h.log.Info("catalog cache reset",
		slog.String("op", "handlers.admin.resetcatalog"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(middlewarectx.ProfileID(r.Context())),
	)
	render.JSON(w, r, response.OK())
}
