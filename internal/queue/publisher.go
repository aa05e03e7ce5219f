package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/model"
)

// Publisher sends dead-lettered audit entries to RabbitMQ.  It dials per
// publish: dead letters only flow while the database is failing, so there is
// no steady-state traffic worth holding a connection for.  Errors are logged
// and returned so callers can ignore them without interrupting the request.
type Publisher struct {
	URL string
	Log *zap.Logger
}

func NewPublisher(url string, log *zap.Logger) *Publisher {
	return &Publisher{URL: url, Log: log}
}

// PublishAuditDeadLetter publishes entry to the audit.deadletter queue as a
// persistent message.
func (p *Publisher) PublishAuditDeadLetter(ctx context.Context, entry model.AuditEntry, reason string) error {
	conn, err := amqp.Dial(p.URL)
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

	// Durable so dead letters survive broker restarts.
	if _, err := ch.QueueDeclare(AuditDeadLetterQueue, true, false, false, false, nil); err != nil {
		p.Log.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(AuditDeadLetter{
		Entry:    entry,
		Reason:   reason,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", AuditDeadLetterQueue, false, false, pub); err != nil {
		p.Log.Warn("rabbitmq: publish failed", zap.Error(err))
		return err
	}
	return nil
}
