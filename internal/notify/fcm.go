package notify

import (
	"context"
	"fmt"

	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"

	"geowatch/internal/monitor"
)

// FCMOptions configures an FCMProvider.
type FCMOptions struct {
	CredentialsFile string
	ProjectID       string
	DeviceToken     string
}

// FCMProvider sends alerts as Firebase Cloud Messaging pushes to a single
// device token. The payload travels as FCM data fields.
type FCMProvider struct {
	service *fcm.Service
	parent  string
	token   string
}

var _ Provider = (*FCMProvider)(nil)

// NewFCMProvider builds the FCM client from a service account file. Extra
// client options are appended after the credentials option.
func NewFCMProvider(ctx context.Context, opts FCMOptions, clientOpts ...option.ClientOption) (*FCMProvider, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("fcm project_id is required")
	}
	if opts.DeviceToken == "" {
		return nil, fmt.Errorf("fcm device_token is required")
	}

	all := make([]option.ClientOption, 0, len(clientOpts)+1)
	if opts.CredentialsFile != "" {
		all = append(all, option.WithCredentialsFile(opts.CredentialsFile))
	}
	all = append(all, clientOpts...)

	service, err := fcm.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create fcm client: %w", err)
	}
	return &FCMProvider{
		service: service,
		parent:  "projects/" + opts.ProjectID,
		token:   opts.DeviceToken,
	}, nil
}

func (*FCMProvider) Name() string { return "fcm" }

func (f *FCMProvider) Send(ctx context.Context, n *monitor.Notification) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: f.token,
			Notification: &fcm.Notification{
				Title: n.Title,
				Body:  n.Body,
			},
			Data: n.Payload,
		},
	}
	if _, err := f.service.Projects.Messages.Send(f.parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
