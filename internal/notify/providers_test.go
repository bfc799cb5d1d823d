package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"google.golang.org/api/option"
)

func TestShoutrrrProvider_LoggerService(t *testing.T) {
	p, err := NewShoutrrrProvider([]string{" logger:// ", ""}, time.Second)
	if err != nil {
		t.Fatalf("NewShoutrrrProvider() error = %v", err)
	}
	if err := p.Send(context.Background(), testNotification()); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}

func TestShoutrrrProvider_Invalid(t *testing.T) {
	tests := []struct {
		name string
		urls []string
	}{
		{"empty", nil},
		{"blank", []string{"  "}},
		{"unknown service", []string{"nosuchservice://secret-token@host"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewShoutrrrProvider(tt.urls, 0)
			if err == nil {
				t.Fatal("NewShoutrrrProvider() expected error")
			}
			if strings.Contains(err.Error(), "secret-token") {
				t.Errorf("error leaks URL credentials: %v", err)
			}
		})
	}
}

func TestShoutrrrProvider_CancelledContext(t *testing.T) {
	p, err := NewShoutrrrProvider([]string{"logger://"}, 0)
	if err != nil {
		t.Fatalf("NewShoutrrrProvider() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Send(ctx, testNotification()); err == nil {
		t.Error("Send() with cancelled context expected error")
	}
}

func TestMQTTProvider_Defaults(t *testing.T) {
	p, err := NewMQTTProvider(MQTTOptions{Broker: "tcp://127.0.0.1:1883"})
	if err != nil {
		t.Fatalf("NewMQTTProvider() error = %v", err)
	}
	if p.Topic() != DefaultMQTTTopic {
		t.Errorf("Topic() = %q, want %q", p.Topic(), DefaultMQTTTopic)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMQTTProvider_CancelledBeforeConnect(t *testing.T) {
	p, err := NewMQTTProvider(MQTTOptions{Broker: "tcp://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewMQTTProvider() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Send(ctx, testNotification()); err == nil {
		t.Error("Send() expected error for cancelled context")
	}
}

func TestEncodeMQTTMessage(t *testing.T) {
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	raw, err := encodeMQTTMessage(testNotification(), now)
	if err != nil {
		t.Fatalf("encodeMQTTMessage() error = %v", err)
	}

	var got mqttMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Title != "Land Change Alert for Farm" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Data["changes_count"] != "2" {
		t.Errorf("Data[changes_count] = %q, want %q", got.Data["changes_count"], "2")
	}
	if !got.SentAt.Equal(now) {
		t.Errorf("SentAt = %v, want %v", got.SentAt, now)
	}
}

func newMockFCMProvider(t *testing.T) (*FCMProvider, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	p, err := NewFCMProvider(context.Background(),
		FCMOptions{ProjectID: "demo", DeviceToken: "device-token"},
		option.WithHTTPClient(&http.Client{Transport: transport}),
		option.WithEndpoint("https://fcm.test/"),
	)
	if err != nil {
		t.Fatalf("NewFCMProvider() error = %v", err)
	}
	return p, transport
}

func TestFCMProvider_Send(t *testing.T) {
	p, transport := newMockFCMProvider(t)

	var body struct {
		Message struct {
			Token        string            `json:"token"`
			Data         map[string]string `json:"data"`
			Notification struct {
				Title string `json:"title"`
				Body  string `json:"body"`
			} `json:"notification"`
		} `json:"message"`
	}
	transport.RegisterResponder("POST", "=~^https://fcm\\.test/v1/projects/demo/messages:send",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return httpmock.NewStringResponse(400, err.Error()), nil
			}
			return httpmock.NewStringResponse(200, `{"name":"projects/demo/messages/1"}`), nil
		})

	if err := p.Send(context.Background(), testNotification()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if transport.GetTotalCallCount() != 1 {
		t.Fatalf("calls = %d, want 1", transport.GetTotalCallCount())
	}
	if body.Message.Token != "device-token" {
		t.Errorf("token = %q, want %q", body.Message.Token, "device-token")
	}
	if body.Message.Notification.Title != "Land Change Alert for Farm" {
		t.Errorf("title = %q", body.Message.Notification.Title)
	}
	if body.Message.Data["alert_session_id"] != "session-1" {
		t.Errorf("data[alert_session_id] = %q, want %q", body.Message.Data["alert_session_id"], "session-1")
	}
}

func TestFCMProvider_SendError(t *testing.T) {
	p, transport := newMockFCMProvider(t)
	transport.RegisterResponder("POST", "=~^https://fcm\\.test/v1/projects/demo/messages:send",
		httpmock.NewStringResponder(404, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))

	err := p.Send(context.Background(), testNotification())
	if err == nil || !strings.Contains(err.Error(), "fcm send") {
		t.Errorf("Send() error = %v, want fcm send error", err)
	}
}

func TestNewFCMProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts FCMOptions
	}{
		{"missing project", FCMOptions{DeviceToken: "t"}},
		{"missing token", FCMOptions{ProjectID: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFCMProvider(context.Background(), tt.opts); err == nil {
				t.Error("NewFCMProvider() expected error")
			}
		})
	}
}
