// Package poller consumes completed-checkout events and empties the buyer's
// cart once the order has been placed.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	Topic   = "checkout-outbox"
	GroupID = "cart-service-consumer"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type CartClearer interface {
	ClearCart(ctx context.Context, userID string) error
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	reader  MessageReader
	carts   CartClearer
	backoff time.Duration
	log     *slog.Logger
}

// NewPoller joins the cart-service consumer group on the checkout outbox topic.
func NewPoller(carts CartClearer, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return New(reader, carts)
}

func New(reader MessageReader, carts CartClearer) *Poller {
	return &Poller{
		reader:  reader,
		carts:   carts,
		backoff: time.Second,
		log:     slog.Default().With(slog.String("component", "poller")),
	}
}

// Run processes messages until ctx is cancelled. A message is committed once
// its cart has been cleared or once it is known to be unprocessable. A failed
// clear is retried in place with backoff, so no later offset is committed
// ahead of it.
func (p *Poller) Run(ctx context.Context) {
	for {
		m, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.ErrorContext(ctx, "fetch failed", slog.Any("err", err))
			if !p.wait(ctx) {
				return
			}
			continue
		}

		if err := p.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.ErrorContext(ctx, "commit failed",
				slog.Int64("offset", m.Offset), slog.Any("err", err))
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", slog.Any("err", err))
	}
}

// handle clears the cart named by m and commits it. It only returns early
// without committing when ctx is done.
func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	var event checkoutEvent
	if errUnmarshal := json.Unmarshal(m.Value, &event); errUnmarshal != nil || event.UserID == "" {
		p.log.WarnContext(ctx, "skipping malformed checkout event",
			slog.Int64("offset", m.Offset), slog.Any("err", errUnmarshal))
		return p.reader.CommitMessages(ctx, m)
	}

	for attempt := 1; ; attempt++ {
		err := p.carts.ClearCart(ctx, event.UserID)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.ErrorContext(ctx, "clear cart failed",
			slog.String("user_id", event.UserID),
			slog.Int64("offset", m.Offset),
			slog.Int("attempt", attempt),
			slog.Any("err", err))
		if !p.wait(ctx) {
			return fmt.Errorf("clear cart for user %s: %w", event.UserID, ctx.Err())
		}
	}

	p.log.InfoContext(ctx, "cart cleared after checkout",
		slog.String("user_id", event.UserID), slog.String("checkout_id", event.CheckoutID))
	return p.reader.CommitMessages(ctx, m)
}

// wait sleeps for the backoff and reports false if ctx ended first.
func (p *Poller) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.backoff):
		return true
	}
}
