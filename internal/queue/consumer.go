package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/dermascan/internal/metrics"
	"github.com/iliyamo/dermascan/internal/model"
)

// AuditInserter is the subset of the audit repository the consumer needs.
type AuditInserter interface {
	Insert(ctx context.Context, e *model.AuditEntry) error
}

// errMalformed marks deliveries that can never be replayed.
var errMalformed = errors.New("malformed dead letter")

// AuditReplayConsumer drains audit.deadletter back into system_logs.
type AuditReplayConsumer struct {
	URL  string
	Sink AuditInserter
	Log  *zap.Logger
}

func NewAuditReplayConsumer(url string, sink AuditInserter, log *zap.Logger) *AuditReplayConsumer {
	return &AuditReplayConsumer{URL: url, Sink: sink, Log: log}
}

// Run connects to RabbitMQ, declares the queue (durable) and replays each
// message.  It reconnects with exponential backoff and returns only when ctx
// is cancelled.
func (c *AuditReplayConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("audit-replay: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("audit-replay: consume loop ended; reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *AuditReplayConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.Log.Warn("audit-replay: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(AuditDeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(AuditDeadLetterQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.settle(ctx, d)
		}
	}
}

func (c *AuditReplayConsumer) settle(ctx context.Context, d amqp.Delivery) {
	err := c.Replay(ctx, d.Body)
	switch {
	case err == nil:
		metrics.AuditReplays.WithLabelValues("replayed").Inc()
		_ = d.Ack(false)
	case errors.Is(err, errMalformed):
		metrics.AuditReplays.WithLabelValues("dropped").Inc()
		c.Log.Error("audit-replay: dropping message", zap.Error(err))
		_ = d.Nack(false, false)
	default:
		// Database still unavailable; requeue after a pause so the queue is
		// not spun hot.
		metrics.AuditReplays.WithLabelValues("requeued").Inc()
		c.Log.Warn("audit-replay: insert failed; requeueing", zap.Error(err))
		sleepCtx(ctx, 5*time.Second)
		_ = d.Nack(false, true)
	}
}

// Replay decodes one dead letter and inserts its entry.
func (c *AuditReplayConsumer) Replay(ctx context.Context, body []byte) error {
	var ev AuditDeadLetter
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if ev.Entry.Action == "" {
		return fmt.Errorf("%w: missing action", errMalformed)
	}
	if ev.Entry.Details == nil {
		ev.Entry.Details = map[string]any{}
	}
	ev.Entry.Details["replayed_from_deadletter"] = true
	ev.Entry.Details["deadletter_reason"] = ev.Reason
	ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.Sink.Insert(ictx, &ev.Entry)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
