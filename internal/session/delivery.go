// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// Message carries a freshly issued single-use token to its owner.
type Message struct {
	Kind      auth.OneTimeKind
	UserID    string
	Email     string
	Token     string
	ExpiresAt time.Time
}

// Delivery hands one-time tokens to users out of band (mail, SMS, a
// terminal). A delivery failure is logged; the token stays valid.
type Delivery interface {
	Deliver(ctx context.Context, msg Message) error
}

// DeliveryFunc adapts a function to a Delivery.
type DeliveryFunc func(ctx context.Context, msg Message) error

// Deliver calls f.
func (f DeliveryFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type logDelivery struct {
	log *slog.Logger
}

// LogDelivery returns a Delivery that only records that a token was
// issued. The token itself is never logged.
func LogDelivery(logger *slog.Logger) Delivery {
	return logDelivery{log: logger}
}

func (d logDelivery) Deliver(ctx context.Context, msg Message) error {
	d.log.InfoContext(ctx, "one-time token issued, no delivery channel configured",
		"kind", string(msg.Kind),
		"user_id", msg.UserID,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}
