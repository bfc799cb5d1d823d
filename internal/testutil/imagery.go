package testutil

import (
	"context"
	"errors"
	"sync"

	"geowatch/internal/monitor"
)

// FakeProvider serves canned imagery. Safe for concurrent use.
type FakeProvider struct {
	mu       sync.Mutex
	image    []byte
	fail     func(monitor.FetchRequest) error
	gate     chan struct{}
	requests []monitor.FetchRequest
}

// NewFakeProvider returns a provider that answers every request with image.
func NewFakeProvider(image []byte) *FakeProvider {
	return &FakeProvider{image: image}
}

// SetImage changes the image returned by subsequent fetches.
func (f *FakeProvider) SetImage(image []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = image
}

// FailWhen makes fetches for which fn returns an error fail with it.
func (f *FakeProvider) FailWhen(fn func(monitor.FetchRequest) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// Block makes every fetch wait until Release is called or its context ends.
func (f *FakeProvider) Block() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

// Release unblocks fetches held by Block.
func (f *FakeProvider) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// Requests returns a copy of every request received so far.
func (f *FakeProvider) Requests() []monitor.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]monitor.FetchRequest(nil), f.requests...)
}

func (f *FakeProvider) Fetch(ctx context.Context, req monitor.FetchRequest) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, fail, image := f.gate, f.fail, f.image
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		if err := fail(req); err != nil {
			return nil, err
		}
	}
	if image == nil {
		return nil, errors.New("fake provider has no image")
	}
	return append([]byte(nil), image...), nil
}

var _ monitor.ImageryProvider = (*FakeProvider)(nil)
