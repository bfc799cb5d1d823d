package monitor

import (
	"context"
	"errors"
)

// ErrNoProviders is returned by a notifier with no enabled delivery channel.
var ErrNoProviders = errors.New("no notification providers configured")

// Notification is one alert message. Payload values are strings so they can
// travel as push data fields unchanged.
type Notification struct {
	Title   string
	Body    string
	Payload map[string]string
}

// Notifier delivers alerts. A returned error means the alert was not
// delivered through any channel.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}
