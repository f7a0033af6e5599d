// Package events delivers booking lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "bookings"
	exchangeKind    = "topic"
	contentTypeJSON = "application/json"
)

var ErrInvalidPublisher = errors.New("invalid event publisher")

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes each event as a persistent JSON message on a durable
// topic exchange. The routing key is the event type.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url string, exchange string) (*AMQPPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: amqp url is required", ErrInvalidPublisher)
	}
	if strings.TrimSpace(exchange) == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish implements booking.EventPublisher.
func (publisher *AMQPPublisher) Publish(ctx context.Context, event booking.Event) error {
	message, err := newMessage(event)
	if err != nil {
		return err
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if err := publisher.channel.PublishWithContext(ctx, publisher.exchange, string(event.Type), false, false, message); err != nil {
		return fmt.Errorf("amqp publish %s: %w", event.Type, err)
	}
	return nil
}

// Close releases the channel and the connection.
func (publisher *AMQPPublisher) Close() error {
	var closeErr error
	if publisher.channel != nil {
		closeErr = publisher.channel.Close()
	}
	if publisher.conn != nil {
		closeErr = errors.Join(closeErr, publisher.conn.Close())
	}
	return closeErr
}

func newMessage(event booking.Event) (amqp.Publishing, error) {
	if event.Type == "" {
		return amqp.Publishing{}, fmt.Errorf("%w: event type is required", ErrInvalidPublisher)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.BookingID + ":" + string(event.Type) + ":" + event.Status,
		Timestamp:    event.OccurredAt.UTC(),
		Type:         string(event.Type),
		Body:         body,
	}, nil
}

// Nop discards every event.
type Nop struct{}

// Publish implements booking.EventPublisher.
func (Nop) Publish(context.Context, booking.Event) error {
	return nil
}
