package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/pesapoll/internal/lib/sl"
)

// Consume читает очередь queueName и передаёт тела сообщений handler.
// Одновременно обрабатывается не больше workers сообщений. Если handler
// вернул ошибку, сообщение возвращается в очередь. Чтение прекращается
// при отмене ctx или закрытии канала.
func Consume(ctx context.Context, log *slog.Logger, ch *amqp.Channel, queueName string, workers int, handler func([]byte) error) error {
	const op = "rabbitmq.Consume"
	if workers < 1 {
		workers = 1
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	delivery, err := ch.Consume(
		queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	sem := make(chan struct{}, workers)
	go func() {
		for {
			select {
			case d, ok := <-delivery:
				if !ok {
					return
				}
				sem <- struct{}{}
				go func(d amqp.Delivery) {
					defer func() { <-sem }()
					if err := handler(d.Body); err != nil {
						log.Warn("message handling failed, requeue", slog.String("queue", queueName), sl.Err(err))
						if nackErr := d.Nack(false, true); nackErr != nil {
							log.Error("failed to nack message", sl.Err(nackErr))
						}
						return
					}
					if ackErr := d.Ack(false); ackErr != nil {
						log.Error("failed to ack message", sl.Err(ackErr))
					}
				}(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
