// Package health реализует проверку готовности сервиса.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// Pinger зависимость, доступность которой проверяется.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc адаптер функции к Pinger.
type PingFunc func(ctx context.Context) error

// Ping вызывает f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler обрабатывает GET /health.
type Handler struct {
	log     *slog.Logger
	checks  map[string]Pinger
	timeout time.Duration
}

// New создает новый Handler. Nil-зависимости пропускаются.
func New(log *slog.Logger, checks map[string]Pinger) *Handler {
	active := make(map[string]Pinger, len(checks))
	for name, p := range checks {
		if p != nil {
			active[name] = p
		}
	}
	return &Handler{log: log, checks: active, timeout: 2 * time.Second}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.health"

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.log.Warn("dependency unavailable", slog.String("op", op), slog.String("dependency", name), sl.Err(err))
			report[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		report[name] = "ok"
	}

	render.Status(r, status)
	if status != http.StatusOK {
		resp := response.Error("service unavailable")
		resp.Data = report
		render.JSON(w, r, resp)
		return
	}
	render.JSON(w, r, response.StatusOKWithData(report))
}
