package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// OrderEvent is the wire shape for every order/ticket lifecycle notification.
type OrderEvent struct {
	Type       string     `json:"type"`
	OrderID    string     `json:"order_id"`
	EventID    int64      `json:"event_id"`
	BuyerEmail string     `json:"buyer_email"`
	Status     string     `json:"status"`
	TotalCents int64      `json:"total_cents,omitempty"`
	Currency   string     `json:"currency,omitempty"`
	TicketID   string     `json:"ticket_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

const (
	EventOrderCreated    = "order_created"
	EventOrderConfirmed  = "order_confirmed"
	EventOrderExpired    = "order_expired"
	EventOrderDisputed   = "order_disputed"
	EventPaymentFailed   = "payment_failed"
	EventTicketIssued    = "ticket_issued"
	EventTicketCancelled = "ticket_cancelled"
	EventRefundRequested = "refund_requested"
)

type Producer struct {
	brokers []string
	writer  *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{
		brokers: brokers,
		writer:  writer,
	}
}

const defaultPublishRetries = 3

// Publish delivers one event, absorbing transient broker hiccups through a
// bounded retry so callers treat a returned error as genuinely undeliverable.
func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	return p.PublishWithRetry(ctx, topic, key, payload, defaultPublishRetries)
}

func (p *Producer) PublishWithRetry(ctx context.Context, topic, key string, payload interface{}, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := p.publish(ctx, topic, key, payload)
		if err == nil {
			return nil
		}

		lastErr = err
		if i < maxRetries-1 {
			time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
