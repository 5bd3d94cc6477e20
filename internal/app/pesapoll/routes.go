package pesapoll

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pesapoll/internal/config"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/admin/resetcatalog"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/admin/resetcompletions"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/auth/admin"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/auth/register"
	eventshandler "github.com/magabrotheeeer/pesapoll/internal/http/handlers/events"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/health"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/plans"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/surveys/complete"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/surveys/list"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/surveys/start"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/user/get"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/user/update"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/version"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/wallet/paymentdetails"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/wallet/summary"
	"github.com/magabrotheeeer/pesapoll/internal/http/handlers/wallet/withdraw"
	"github.com/magabrotheeeer/pesapoll/internal/http/middlewarectx"
	"github.com/magabrotheeeer/pesapoll/internal/lib/jwt"
)

// Dependencies инфраструктура, которую маршруты отдают наружу: метрики и проверки готовности.
// Nil-поля пропускаются.
type Dependencies struct {
	Registry *prometheus.Registry
	Store    health.Pinger
	DB       health.Pinger
	Rabbit   *amqp.Connection
}

var errRabbitClosed = errors.New("amqp connection closed")

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, svc *Services, deps Dependencies) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)
	limiter := middlewarectx.NewLimiter(cfg.RPS, cfg.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", plans.ServeHTTP)

		// Всё остальное работает в рамках профиля устройства
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.ProfileMiddleware(logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, limiter))

			r.Post("/auth/register", register.New(logger, svc.Auth).ServeHTTP)
			r.Post("/auth/login", login.New(logger, svc.Auth).ServeHTTP)
			r.Post("/auth/logout", logout.New(logger, svc.Auth).ServeHTTP)
			r.Post("/auth/admin", admin.New(logger, svc.Auth).ServeHTTP)

			r.Get("/me", get.New(logger, svc.Identity, svc.Auth).ServeHTTP)
			r.Patch("/me", update.New(logger, svc.Identity).ServeHTTP)

			r.Get("/surveys", list.New(logger, svc.Surveys).ServeHTTP)
			r.Post("/surveys/{id}/start", start.New(logger, svc.Surveys).ServeHTTP)
			r.Post("/surveys/{id}/complete", complete.New(logger, svc.Surveys).ServeHTTP)

			r.Get("/version", version.New(logger, svc.Ledger, svc.Auth).ServeHTTP)
			r.Get("/events", eventshandler.New(logger, svc.Bus).ServeHTTP)

			r.Get("/wallet", summary.New(logger, svc.Wallet).ServeHTTP)
			r.Post("/wallet/withdrawals", withdraw.New(logger, svc.Wallet).ServeHTTP)
			r.Put("/wallet/payment-details", paymentdetails.New(logger, svc.Wallet).ServeHTTP)

			// Группа с JWT администратора
			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.AdminMiddleware(jwtMaker, logger))
				r.Delete("/completions/{userId}", resetcompletions.New(logger, svc.Ledger).ServeHTTP)
				r.Post("/catalog/reset", resetcatalog.New(logger, svc.Catalog).ServeHTTP)
			})
		})
	})

	checks := map[string]health.Pinger{}
	if deps.Store != nil {
		checks["redis"] = deps.Store
	}
	if deps.DB != nil {
		checks["postgres"] = deps.DB
	}
	if deps.Rabbit != nil {
		conn := deps.Rabbit
		checks["rabbitmq"] = health.PingFunc(func(context.Context) error {
			if conn.IsClosed() {
				return errRabbitClosed
			}
			return nil
		})
	}
	r.Get("/health", health.New(logger, checks).ServeHTTP)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
}
