package broker

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type ListenerConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

// BookingListener consumes booking messages from RabbitMQ.
type BookingListener struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	handler *Handler
	cfg     ListenerConfig
	logger  zerolog.Logger
}

func NewBookingListener(cfg ListenerConfig, handler *Handler, logger *zerolog.Logger) (*BookingListener, error) {
	l := logger.With().Str("component", "booking_listener").Logger()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	return &BookingListener{
		conn:    conn,
		channel: channel,
		handler: handler,
		cfg:     cfg,
		logger:  l,
	}, nil
}

// Start declares the topology and consumes in a goroutine until ctx ends or
// the channel closes.
func (l *BookingListener) Start(ctx context.Context) error {
	if err := l.channel.ExchangeDeclare(
		l.cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	queue, err := l.channel.QueueDeclare(
		l.cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := l.channel.QueueBind(queue.Name, l.cfg.RoutingKey, l.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	prefetch := l.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := l.channel.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := l.channel.Consume(
		queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	l.logger.Info().Str("queue", queue.Name).Str("routing_key", l.cfg.RoutingKey).Msg("Booking listener started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					l.logger.Warn().Msg("Delivery channel closed")
					return
				}
				l.process(ctx, msg)
			}
		}
	}()

	return nil
}

func (l *BookingListener) process(ctx context.Context, msg amqp.Delivery) {
	err := l.handler.Handle(ctx, msg.RoutingKey, msg.Body)
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			l.logger.Error().Err(ackErr).Msg("Ack failed")
		}
		return
	}

	requeue := !errors.Is(err, ErrMalformed)
	l.logger.Error().Err(err).Str("routing_key", msg.RoutingKey).Bool("requeue", requeue).Msg("Booking message failed")
	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		l.logger.Error().Err(nackErr).Msg("Nack failed")
	}
}

// Ready reports whether the AMQP connection is open.
func (l *BookingListener) Ready() bool {
	return l != nil && l.conn != nil && !l.conn.IsClosed()
}

func (l *BookingListener) Stop() error {
	if l == nil || l.channel == nil {
		return nil
	}
	if err := l.channel.Close(); err != nil {
		return err
	}
	return l.conn.Close()
}
