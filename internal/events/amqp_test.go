package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/rentals/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
)

type recordedPublish struct {
	exchange string
	key      string
	message  amqp.Publishing
}

type fakeChannel struct {
	published  []recordedPublish
	publishErr error
	closed     bool
}

func (channel *fakeChannel) PublishWithContext(_ context.Context, exchange string, key string, _ bool, _ bool, msg amqp.Publishing) error {
	if channel.publishErr != nil {
		return channel.publishErr
	}
	channel.published = append(channel.published, recordedPublish{exchange: exchange, key: key, message: msg})
	return nil
}

func (channel *fakeChannel) Close() error {
	channel.closed = true
	return nil
}

func sampleEvent() booking.Event {
	return booking.Event{
		Type:           booking.EventBookingStatusChanged,
		BookingID:      "b-1",
		PropertyID:     "echo-villa",
		Status:         "approved",
		PreviousStatus: "pending",
		Source:         "admin",
		OccurredAt:     time.Date(2025, time.March, 10, 15, 30, 0, 0, time.UTC),
	}
}

func TestPublishRoutesByEventType(test *testing.T) {
	test.Parallel()
	channel := &fakeChannel{}
	publisher := &AMQPPublisher{channel: channel, exchange: DefaultExchange}

	if err := publisher.Publish(context.Background(), sampleEvent()); err != nil {
		test.Fatalf("publish: %v", err)
	}
	if len(channel.published) != 1 {
		test.Fatalf("expected one message, got %d", len(channel.published))
	}
	published := channel.published[0]
	if published.exchange != "bookings" || published.key != "booking.status_changed" {
		test.Fatalf("unexpected routing %s/%s", published.exchange, published.key)
	}
	if published.message.DeliveryMode != amqp.Persistent || published.message.ContentType != "application/json" {
		test.Fatalf("unexpected message properties %+v", published.message)
	}
	var decoded map[string]any
	if err := json.Unmarshal(published.message.Body, &decoded); err != nil {
		test.Fatalf("decode body: %v", err)
	}
	if decoded["bookingId"] != "b-1" || decoded["previousStatus"] != "pending" || decoded["type"] != "booking.status_changed" {
		test.Fatalf("unexpected body %s", published.message.Body)
	}

	if err := publisher.Close(); err != nil || !channel.closed {
		test.Fatalf("expected the channel to close, got %v", err)
	}
}

func TestPublishErrors(test *testing.T) {
	test.Parallel()
	channel := &fakeChannel{publishErr: errors.New("channel closed")}
	publisher := &AMQPPublisher{channel: channel, exchange: DefaultExchange}
	if err := publisher.Publish(context.Background(), sampleEvent()); err == nil {
		test.Fatalf("expected a publish error")
	}
	if err := publisher.Publish(context.Background(), booking.Event{}); !errors.Is(err, ErrInvalidPublisher) {
		test.Fatalf("expected ErrInvalidPublisher for an untyped event, got %v", err)
	}
	if _, err := DialAMQP(" ", ""); !errors.Is(err, ErrInvalidPublisher) {
		test.Fatalf("expected ErrInvalidPublisher for an empty url, got %v", err)
	}
}

func TestNopPublisher(test *testing.T) {
	test.Parallel()
	var publisher booking.EventPublisher = Nop{}
	if err := publisher.Publish(context.Background(), sampleEvent()); err != nil {
		test.Fatalf("nop publish: %v", err)
	}
}
