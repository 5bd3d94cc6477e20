package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pesapoll/internal/lib/rabbitmq"
)

// AMQPPublisher публикует доменные события в topic-обменник RabbitMQ.
// Ключ маршрутизации совпадает с типом события.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
}

// NewAMQPPublisher оборачивает канал, на котором уже объявлен обменник.
func NewAMQPPublisher(ch *amqp.Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// Publish отправляет событие. Канал amqp не потокобезопасен, поэтому публикации сериализуются.
func (p *AMQPPublisher) Publish(_ context.Context, e Event) error {
	const op = "events.AMQPPublisher.Publish"
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := rabbitmq.PublishMessage(p.ch, p.exchange, e.Type, e); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает канал.
func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}
