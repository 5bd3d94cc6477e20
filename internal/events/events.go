// Package events рассылает уведомления об изменениях документов профиля
// и доменные события.
//
// Уведомления об изменениях (Change) идут через Redis Pub/Sub в канал профиля,
// их читают другие клиенты того же профиля. Доменные события (Event) уходят
// в RabbitMQ, если брокер настроен. Ошибки доставки только логируются.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
	"github.com/magabrotheeeer/pesapoll/internal/storage/kv"
)

// Области, версия которых изменилась.
const (
	ScopeSurveys = "surveys"
	ScopeAuth    = "auth"
)

// Типы доменных событий, они же ключи маршрутизации.
const (
	TypeSurveyCompleted  = "survey.completed"
	TypeCompletionsReset = "completions.reset"
	TypeWithdrawal       = "wallet.withdrawal"
	TypeUserRegistered   = "auth.registered"
)

// Change уведомление о том, что счётчик версии профиля сдвинулся.
type Change struct {
	ProfileID string    `json:"profileId"`
	Scope     string    `json:"scope"`
	Version   int64     `json:"version"`
	At        time.Time `json:"at"`
}

// Event доменное событие для внешних потребителей.
type Event struct {
	Type      string    `json:"type"`
	ProfileID string    `json:"profileId"`
	UserID    string    `json:"userId"`
	SurveyID  string    `json:"surveyId,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Version   int64     `json:"version,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher доставляет доменные события во внешний брокер.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus объединяет канал изменений профиля и публикацию доменных событий.
type Bus struct {
	log   *slog.Logger
	store *kv.Store
	pub   Publisher
}

// NewBus создаёт шину. pub может быть nil, тогда доменные события только логируются.
func NewBus(log *slog.Logger, store *kv.Store, pub Publisher) *Bus {
	return &Bus{log: log, store: store, pub: pub}
}

// Changed публикует уведомление об изменении версии в канал профиля.
func (b *Bus) Changed(ctx context.Context, profileID, scope string, version int64) {
	change := Change{ProfileID: profileID, Scope: scope, Version: version, At: time.Now().UTC()}
	if err := b.store.Publish(ctx, b.store.Key(profileID, kv.ChannelChanges), change); err != nil {
		b.log.Warn("failed to publish change", sl.Profile(profileID), slog.String("scope", scope), sl.Err(err))
	}
}

// Emit отправляет доменное событие в брокер.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if b.pub == nil {
		b.log.Debug("event", slog.String("type", e.Type), sl.Profile(e.ProfileID))
		return
	}
	if err := b.pub.Publish(ctx, e); err != nil {
		b.log.Warn("failed to publish event", slog.String("type", e.Type), sl.Profile(e.ProfileID), sl.Err(err))
	}
}

// Subscribe подписывается на изменения профиля. Канал закрывается, когда
// отменяется ctx или вызывается возвращённая функция остановки.
func (b *Bus) Subscribe(ctx context.Context, profileID string) (<-chan Change, func(), error) {
	const op = "events.Subscribe"
	ps, err := b.store.Subscribe(ctx, b.store.Key(profileID, kv.ChannelChanges))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make(chan Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					b.log.Warn("skip malformed change", sl.Profile(profileID), sl.Err(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, stop, nil
}
