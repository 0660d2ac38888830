package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/queue"
)

// ErrPublishNacked is returned when the broker refuses a confirmation message.
var ErrPublishNacked = errors.New("rabbitmq: publish not acknowledged")

// QueuePublisher hands confirmations to RabbitMQ; the notifier worker
// consumes them and sends the mail.  Success means the broker acknowledged
// the message, not that the mail went out.
type QueuePublisher struct {
	URL string
	Log *zap.Logger
}

// confirmChannel is the part of an AMQP channel the publisher needs.
type confirmChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Confirm(noWait bool) error
	// PublishConfirmed publishes msg and blocks until the broker acks or
	// nacks it, or ctx ends.
	PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) (bool, error)
}

type amqpChannel struct{ *amqp.Channel }

func (c amqpChannel) PublishConfirmed(ctx context.Context, key string, msg amqp.Publishing) (bool, error) {
	dc, err := c.PublishWithDeferredConfirmWithContext(ctx, "", key, false, false, msg)
	if err != nil {
		return false, err
	}
	if dc == nil {
		return false, errors.New("rabbitmq: channel not in confirm mode")
	}
	return dc.WaitContext(ctx)
}

// Notify publishes ev to the reserva.confirmada queue.  It dials per
// message; confirmations are rare next to browsing traffic.  Messages are
// persistent and carry a unique id so consumers can de-duplicate.
func (p QueuePublisher) Notify(ctx context.Context, ev queue.ReservationConfirmed) error {
	dialTimeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(dl)
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		p.Log.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	return p.publish(ctx, amqpChannel{ch}, ev)
}

func (p QueuePublisher) publish(ctx context.Context, ch confirmChannel, ev queue.ReservationConfirmed) error {
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue.ReservationQueue, true, false, false, false, nil); err != nil {
		p.Log.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return err
	}
	if err := ch.Confirm(false); err != nil {
		p.Log.Warn("rabbitmq: confirm mode failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	acked, err := ch.PublishConfirmed(ctx, queue.ReservationQueue, pub)
	if err != nil {
		p.Log.Warn("rabbitmq: publish failed", zap.Error(err))
		return err
	}
	if !acked {
		p.Log.Warn("rabbitmq: publish nacked", zap.String("message_id", pub.MessageId))
		return fmt.Errorf("%w: %s", ErrPublishNacked, pub.MessageId)
	}
	p.Log.Debug("confirmation queued",
		zap.Uint64("id_reserva", ev.ReservationID), zap.String("message_id", pub.MessageId))
	return nil
}
