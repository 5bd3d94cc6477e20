// Package pesapoll собирает зависимости сервиса и запускает HTTP-сервер.
package pesapoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pesapoll/internal/config"
	"github.com/magabrotheeeer/pesapoll/internal/events"
	"github.com/magabrotheeeer/pesapoll/internal/lib/jwt"
	"github.com/magabrotheeeer/pesapoll/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/metrics"
	"github.com/magabrotheeeer/pesapoll/internal/migrations"
	"github.com/magabrotheeeer/pesapoll/internal/services/auth"
	"github.com/magabrotheeeer/pesapoll/internal/services/catalog"
	"github.com/magabrotheeeer/pesapoll/internal/services/identity"
	"github.com/magabrotheeeer/pesapoll/internal/services/ledger"
	"github.com/magabrotheeeer/pesapoll/internal/services/surveys"
	"github.com/magabrotheeeer/pesapoll/internal/services/wallet"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
	"github.com/magabrotheeeer/pesapoll/internal/storage/repository"
)

const (
	shutdownTimeout = 15 * time.Second
	auditWorkers    = 4
)

// App сервис PesaPoll со всеми зависимостями.
type App struct {
	server    *http.Server
	logger    *slog.Logger
	db        *repository.Storage
	store     *kv.Store
	rabbit    *amqp.Connection
	publisher *events.AMQPPublisher
	auditCh   *amqp.Channel
}

// Services сервисы предметной области, которые обслуживают маршруты.
type Services struct {
	Identity *identity.Service
	Auth     *auth.Service
	Ledger   *ledger.Service
	Catalog  *catalog.Service
	Surveys  *surveys.Service
	Wallet   *wallet.Service
	Bus      *events.Bus
}

// New подключается к хранилищам и брокеру и собирает маршрутизатор.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.pesapoll.New"

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = repository.CheckDatabaseReady(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	store, err := kv.InitServer(ctx, cfg.RedisConnection, cfg.Ledger.MaxRetries)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	a := &App{logger: logger, db: db, store: store}

	var pub events.Publisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.Retries, cfg.RetryDelay)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.rabbit = conn
		ch, err := rabbitmq.SetupExchange(conn, cfg.Exchange, []rabbitmq.Binding{rabbitmq.AuditQueue(cfg.Exchange)})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.publisher = events.NewAMQPPublisher(ch, cfg.Exchange)
		pub = a.publisher

		if a.auditCh, err = conn.Channel(); err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		audit := events.NewAuditLog(logger)
		if err := rabbitmq.Consume(ctx, logger, a.auditCh, rabbitmq.AuditQueue(cfg.Exchange).QueueName, auditWorkers, audit.Handle); err != nil {
			a.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		logger.Info("domain events enabled", slog.String("exchange", cfg.Exchange))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := NewServices(logger, cfg, store, db, pub, metrics.New(registry))

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg, svc, Dependencies{
		Registry: registry,
		Store:    store,
		DB:       db,
		Rabbit:   a.rabbit,
	})

	a.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return a, nil
}

// Accounts реестр учётных записей: регистрация, вход и зеркалирование профиля.
type Accounts interface {
	auth.AccountRepository
	identity.AccountMirror
}

// NewServices связывает сервисы предметной области между собой.
func NewServices(logger *slog.Logger, cfg *config.Config, store *kv.Store, accounts Accounts,
	pub events.Publisher, m *metrics.Metrics) *Services {
	bus := events.NewBus(logger, store, pub)

	users := identity.New(logger, store, accounts)
	book := ledger.New(logger, store, users, bus, m)
	cat := catalog.New(logger, cfg.Catalog, m)
	jwtMaker := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL)

	return &Services{
		Identity: users,
		Auth:     auth.New(logger, store, accounts, users, bus, jwtMaker, cfg.Admin.Password),
		Ledger:   book,
		Catalog:  cat,
		Surveys:  surveys.New(logger, cat, book, users, m),
		Wallet:   wallet.New(logger, store, users, book, cat, bus, m),
		Bus:      bus,
	}
}

// Run запускает HTTP-сервер и останавливает его при отмене ctx.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		err := a.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.close()
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		err := a.server.Shutdown(timeoutCtx)
		a.close()
		return err
	}
}

func (a *App) close() {
	if a.auditCh != nil {
		if err := a.auditCh.Close(); err != nil {
			a.logger.Warn("failed to close audit channel", sl.Err(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close amqp channel", sl.Err(err))
		}
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			a.logger.Warn("failed to close amqp connection", sl.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close redis", sl.Err(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close postgres", sl.Err(err))
		}
	}
}
