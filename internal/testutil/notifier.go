package testutil

import (
	"context"
	"sync"

	"geowatch/internal/monitor"
)

// RecordingNotifier remembers every notification it is asked to deliver.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []*monitor.Notification
	err  error
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// FailWith makes subsequent Notify calls return err (after recording).
func (r *RecordingNotifier) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingNotifier) Notify(_ context.Context, n *monitor.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

// Sent returns the recorded notifications.
func (r *RecordingNotifier) Sent() []*monitor.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*monitor.Notification(nil), r.sent...)
}

var _ monitor.Notifier = (*RecordingNotifier)(nil)
