// Package withdraw реализует HTTP-обработчик вывода средств.
//
// Сумма проверяется в порядке: некорректная сумма, недостаточный баланс,
// сумма меньше минимальной для тарифа. Все три случая дают 422.
package withdraw

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

// Service описывает интерфейс вывода средств.
type Service interface {
	Withdraw(ctx context.Context, profileID string, amount int64) (*models.WalletSummary, error)
}

// Handler обрабатывает POST /wallet/withdrawals.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.wallet.withdraw"

	profileID := middlewarectx.ProfileID(r.Context())
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Profile(profileID),
	)

	var req models.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("Please enter a valid amount."))
		return
	}

	summary, err := h.service.Withdraw(r.Context(), profileID, req.Amount)
	if err != nil {
		log.Info("withdrawal rejected", sl.Err(err), slog.Int64("amount", req.Amount))
		status, resp := response.FromError(err, "could not process withdrawal")
		render.Status(r, status)
		render.JSON(w, r, resp)
		return
	}

	log.Info("withdrawal accepted", slog.Int64("amount", req.Amount))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"wallet": summary,
	}))
}
