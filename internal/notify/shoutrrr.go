package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"geowatch/internal/monitor"
)

// ShoutrrrProvider sends alerts to any service shoutrrr understands
// (Telegram, Slack, ntfy, email and so on). One sender serves all URLs.
type ShoutrrrProvider struct {
	urls   []string
	sender *router.ServiceRouter
}

var _ Provider = (*ShoutrrrProvider)(nil)

// NewShoutrrrProvider validates urls by building the sender up front.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("at least one shoutrrr URL is required")
	}

	sender, err := shoutrrr.CreateSender(cleaned...)
	if err != nil {
		// shoutrrr errors can echo the URL, which carries tokens.
		return nil, fmt.Errorf("invalid shoutrrr URL: %s", redactURLs(err.Error(), cleaned))
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrProvider{urls: slices.Clone(cleaned), sender: sender}, nil
}

func (*ShoutrrrProvider) Name() string { return "shoutrrr" }

func (s *ShoutrrrProvider) Send(ctx context.Context, n *monitor.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range s.sender.Send(n.Body, &params) {
		if err != nil {
			return fmt.Errorf("shoutrrr send: %s", redactURLs(err.Error(), s.urls))
		}
	}
	return nil
}

func redactURLs(msg string, urls []string) string {
	for _, u := range urls {
		msg = strings.ReplaceAll(msg, u, "[redacted]")
	}
	return msg
}
