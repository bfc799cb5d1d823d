// Package notify delivers change alerts through push, chat and broker
// channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geowatch/internal/monitor"
)

// DefaultSendTimeout bounds a single provider delivery.
const DefaultSendTimeout = 30 * time.Second

// Provider is one delivery channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n *monitor.Notification) error
}

// Dispatcher fans a notification out to every configured provider.
// Delivery counts as successful when at least one provider accepts it.
type Dispatcher struct {
	providers []Provider
	logger    monitor.Logger
	timeout   time.Duration
}

var _ monitor.Notifier = (*Dispatcher)(nil)

func NewDispatcher(logger monitor.Logger, providers ...Provider) *Dispatcher {
	if logger == nil {
		logger = monitor.NewNopLogger()
	}
	return &Dispatcher{
		providers: providers,
		logger:    logger,
		timeout:   DefaultSendTimeout,
	}
}

// SetTimeout overrides the per-provider timeout. Zero disables it.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Providers returns the names of the configured providers.
func (d *Dispatcher) Providers() []string {
	names := make([]string, 0, len(d.providers))
	for _, p := range d.providers {
		names = append(names, p.Name())
	}
	return names
}

func (d *Dispatcher) Notify(ctx context.Context, n *monitor.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is nil")
	}
	if len(d.providers) == 0 {
		return monitor.ErrNoProviders
	}

	var errs []error
	delivered := 0
	for _, p := range d.providers {
		if err := d.send(ctx, p, n); err != nil {
			d.logger.Warn("notification delivery failed", "provider", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		d.logger.Debug("notification delivered", "provider", p.Name())
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("notification not delivered: %w", errors.Join(errs...))
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, p Provider, n *monitor.Notification) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return p.Send(ctx, n)
}
