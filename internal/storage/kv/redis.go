// Package kv реализует хранилище JSON-документов профиля поверх Redis.
//
// Каждая логическая коллекция (текущий пользователь, журнал прохождений,
// счётчики версий) хранится одним документом под своим ключом. Изменения
// документов выполняются оптимистичными транзакциями WATCH/MULTI/EXEC с
// повтором при конфликте, а уведомления об изменениях рассылаются через Pub/Sub.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/pesapoll/internal/config"
)

var (
	// ErrCorrupt документ существует, но не разбирается как JSON ожидаемой формы.
	ErrCorrupt = errors.New("corrupt document")
	// ErrConflict транзакция не прошла после всех повторов из-за параллельных записей.
	ErrConflict = errors.New("concurrent update conflict")
)

// Имена документов профиля.
const (
	KeyUser           = "user"
	KeyCompletions    = "completions"
	KeySurveysVersion = "surveys:version"
	KeyAuthVersion    = "auth:version"
	KeyAdmin          = "admin"
	KeyWithdrawals    = "withdrawals"
	ChannelChanges    = "changes"
)

// Store хранилище документов профилей.
type Store struct {
	Db         *redis.Client
	prefix     string
	maxRetries int
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection, maxRetries int) (*Store, error) {
	const op = "kv.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db, cfg.KeyPrefix, maxRetries), nil
}

// New оборачивает готовый клиент Redis.
func New(db *redis.Client, prefix string, maxRetries int) *Store {
	if prefix == "" {
		prefix = "pesapoll"
	}
	if maxRetries <= 0 {
		maxRetries = 10
	}
	return &Store{Db: db, prefix: prefix, maxRetries: maxRetries}
}

// Key строит ключ документа профиля: <prefix>:<profile>:<parts...>.
func (s *Store) Key(profileID string, parts ...string) string {
	return s.prefix + ":" + profileID + ":" + strings.Join(parts, ":")
}

// Get читает документ и разбирает его в result. Возвращает false, если ключа нет.
// Нечитаемый документ возвращает ошибку, совместимую с ErrCorrupt.
func (s *Store) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "kv.Get"
	val, err := s.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := decode(val, result); err != nil {
		return false, fmt.Errorf("%s: %s: %w", op, key, err)
	}
	return true, nil
}

// Set сериализует value в JSON и сохраняет его без срока жизни.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	const op = "kv.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Db.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete удаляет ключи.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	const op = "kv.Delete"
	if err := s.Db.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Update выполняет read-modify-write над ключами keys как одну оптимистичную транзакцию.
// fn читает документы через Tx и ставит записи в очередь; записи применяются
// атомарно в MULTI/EXEC. Если за ключами успел записать кто-то другой, fn
// вызывается заново. Ошибка fn прерывает транзакцию без повторов.
func (s *Store) Update(ctx context.Context, keys []string, fn func(tx *Tx) error) error {
	const op = "kv.Update"

	attempt := func() error {
		err := s.Db.Watch(ctx, func(rtx *redis.Tx) error {
			tx := &Tx{ctx: ctx, rtx: rtx}
			if err := fn(tx); err != nil {
				return err
			}
			if len(tx.writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, w := range tx.writes {
					if w.del {
						pipe.Del(ctx, w.key)
						continue
					}
					pipe.Set(ctx, w.key, w.value, 0)
				}
				return nil
			})
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.maxRetries)), ctx))
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Store) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}

// Publish отправляет сообщение в канал Pub/Sub.
func (s *Store) Publish(ctx context.Context, channel string, msg any) error {
	const op = "kv.Publish"
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Db.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Subscribe подписывается на канал и дожидается подтверждения подписки,
// поэтому сообщения, опубликованные после возврата, не теряются.
func (s *Store) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	const op = "kv.Subscribe"
	ps := s.Db.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ps, nil
}

// Ping проверяет доступность Redis.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.Db.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kv.Ping: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (s *Store) Close() error {
	return s.Db.Close()
}

func decode(data []byte, result any) error {
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("%w: %s", ErrCorrupt, err.Error())
	}
	return nil
}
