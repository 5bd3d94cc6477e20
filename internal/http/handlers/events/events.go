// Package events реализует поток Server-Sent Events с уведомлениями об изменениях профиля.
//
// Каждое уведомление отправляется как событие "change" с JSON-телом events.Change.
// Пока изменений нет, раз в Heartbeat отправляется комментарий, чтобы прокси
// не закрывали соединение.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/http/response"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// DefaultHeartbeat интервал комментариев keep-alive.
const DefaultHeartbeat = 25 * time.Second

// Subscriber источник уведомлений профиля.
type Subscriber interface {
	Subscribe(ctx context.Context, profileID string) (<-chan events.Change, func(), error)
}

// Handler обрабатывает GET /events.
type Handler struct {
	log        *slog.Logger
	subscriber Subscriber
	Heartbeat  time.Duration
}

// New создает новый Handler.
func New(log *slog.Logger, subscriber Subscriber) *Handler {
	return &Handler{log: log, subscriber: subscriber, Heartbeat: DefaultHeartbeat}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.events"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	rc := http.NewResponseController(w)

	changes, stop, err := h.subscriber.Subscribe(r.Context(), profileID)
	if err != nil {
		log.Error("failed to subscribe", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("event stream unavailable"))
		return
	}
	defer stop()

	// Поток живёт дольше WriteTimeout сервера.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("cannot clear write deadline", sl.Err(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Error("streaming unsupported", sl.Err(err))
		return
	}
	log.Debug("event stream opened")

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed by client")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case c, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				log.Error("failed to encode change", sl.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\nid: %d\ndata: %s\n\n", c.Version, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
