package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Binding очередь и шаблон ключа маршрутизации, которым она привязана к обменнику.
type Binding struct {
	QueueName  string
	RoutingKey string
}

// AuditQueue очередь, куда попадают все события опросов и кошелька.
func AuditQueue(exchange string) Binding {
	return Binding{QueueName: exchange + ".audit", RoutingKey: "#"}
}

// SetupExchange открывает канал, объявляет topic-обменник и привязывает к нему очереди.
func SetupExchange(conn *amqp.Connection, exchange string, bindings []Binding) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupExchange"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.QueueName, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, b.QueueName, err)
		}
		if err := ch.QueueBind(b.QueueName, b.RoutingKey, exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, b.QueueName, b.RoutingKey, err)
		}
	}

	return ch, nil
}
