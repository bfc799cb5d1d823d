package notify

import (
	"context"
	"fmt"
	"io"
	"time"

	"geowatch/internal/config"
	"geowatch/internal/monitor"
)

// NewDispatcherFromConfig builds a Dispatcher with every enabled provider.
// A config with nothing enabled yields a Dispatcher that reports
// monitor.ErrNoProviders on each alert.
func NewDispatcherFromConfig(ctx context.Context, cfg config.NotifyConfig, logger monitor.Logger) (*Dispatcher, error) {
	var providers []Provider

	if cfg.FCM.Enabled {
		p, err := NewFCMProvider(ctx, FCMOptions{
			CredentialsFile: cfg.FCM.CredentialsFile,
			ProjectID:       cfg.FCM.ProjectID,
			DeviceToken:     cfg.FCM.DeviceToken,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.Shoutrrr.Enabled {
		var timeout time.Duration
		if cfg.Shoutrrr.Timeout != "" {
			d, err := time.ParseDuration(cfg.Shoutrrr.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid shoutrrr timeout %q: %w", cfg.Shoutrrr.Timeout, err)
			}
			timeout = d
		}
		p, err := NewShoutrrrProvider(cfg.Shoutrrr.URLs, timeout)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.MQTT.Enabled {
		p, err := NewMQTTProvider(MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return NewDispatcher(logger, providers...), nil
}

// Close releases provider connections.
func (d *Dispatcher) Close() error {
	for _, p := range d.providers {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
	return nil
}
