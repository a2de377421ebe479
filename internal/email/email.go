package email

import (
	"context"
	"fmt"

	"github.com/ivmarkov/ticketflow/internal/kafka"
)

type Sender struct{}

func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, event kafka.OrderEvent) error {
	fmt.Printf("send email to %s about %s for order %s\n", event.BuyerEmail, event.Type, event.OrderID)
	return nil
}
