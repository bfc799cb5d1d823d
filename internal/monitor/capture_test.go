package monitor_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

func TestImageKey(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 5, 999, time.FixedZone("CET", 3600))
	got := monitor.ImageKey("area-1", "area-1_37.421900_-122.084100", at)
	want := "area-1/area-1_37.421900_-122.084100_20240115093005.png"
	if got != want {
		t.Errorf("ImageKey() = %q, want %q", got, want)
	}
}

func TestService_CaptureArea(t *testing.T) {
	f := newFixture(t)
	area := f.addArea(t, "Farm")

	res, err := f.svc.CaptureArea(context.Background(), area)
	if err != nil {
		t.Fatalf("CaptureArea() error = %v", err)
	}
	if res.Tiles != 1 || res.Captured != 1 || res.Failed != 0 {
		t.Errorf("CaptureArea() = %+v, want 1 tile captured", res)
	}

	reqs := f.provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider requests = %d, want 1", len(reqs))
	}
	if reqs[0].Zoom != 21 || reqs[0].Width != 400 || reqs[0].Height != 400 {
		t.Errorf("request = %+v, want zoom 21 at 400x400", reqs[0])
	}

	captures := f.captures(t, area.ID)
	if len(captures) != 1 {
		t.Fatalf("captures = %d, want 1", len(captures))
	}
	c := captures[0]
	if c.Status != model.CaptureCaptured {
		t.Errorf("Status = %s, want %s", c.Status, model.CaptureCaptured)
	}
	if c.ChangeDetected.Valid || c.LastComparedAt.Valid {
		t.Error("fresh capture should have no comparison fields")
	}

	var stored bytes.Buffer
	if err := f.store.Get(context.Background(), c.ImageRef, &stored); err != nil {
		t.Fatalf("image %s not stored: %v", c.ImageRef, err)
	}
	if !bytes.Equal(stored.Bytes(), terrainPNG) {
		t.Error("stored image differs from fetched image")
	}
}

func TestService_CaptureArea_TileFailures(t *testing.T) {
	tests := []struct {
		name         string
		fail         func(req monitor.FetchRequest) error
		image        []byte
		wantCaptured int
		wantFailed   int
	}{
		{
			name:         "every tile fails",
			fail:         func(monitor.FetchRequest) error { return errors.New("quota exceeded") },
			image:        terrainPNG,
			wantCaptured: 0,
			wantFailed:   4,
		},
		{
			name: "southern row fails",
			fail: func(req monitor.FetchRequest) error {
				if req.Lat < 37.4219 {
					return errors.New("HTTP 500")
				}
				return nil
			},
			image:        terrainPNG,
			wantCaptured: 2,
			wantFailed:   2,
		},
		{
			name:         "empty body",
			image:        []byte{},
			wantCaptured: 0,
			wantFailed:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			area, err := f.svc.AddArea(context.Background(), &model.AreaConfig{
				Name: "Quad", CenterLat: 37.4219, CenterLon: -122.0841,
				NorthKm: 0.2, SouthKm: 0.2, EastKm: 0.2, WestKm: 0.2,
			})
			if err != nil {
				t.Fatalf("AddArea() error = %v", err)
			}
			f.provider.SetImage(tt.image)
			if tt.fail != nil {
				f.provider.FailWhen(tt.fail)
			}

			res, err := f.svc.CaptureArea(context.Background(), area)
			if err != nil {
				t.Fatalf("CaptureArea() error = %v", err)
			}
			if res.Tiles != 4 {
				t.Fatalf("Tiles = %d, want 4", res.Tiles)
			}
			if res.Captured != tt.wantCaptured || res.Failed != tt.wantFailed {
				t.Errorf("CaptureArea() = %+v, want captured %d failed %d", res, tt.wantCaptured, tt.wantFailed)
			}
			if got := len(f.captures(t, area.ID)); got != tt.wantCaptured {
				t.Errorf("recorded captures = %d, want %d", got, tt.wantCaptured)
			}
			if f.store.Len() != tt.wantCaptured {
				t.Errorf("stored images = %d, want %d", f.store.Len(), tt.wantCaptured)
			}
		})
	}
}

func TestService_CaptureArea_Cancelled(t *testing.T) {
	f := newFixture(t)
	area := f.addArea(t, "Farm")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.CaptureArea(ctx, area)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("CaptureArea() error = %v, want context.Canceled", err)
	}
	if n := len(f.provider.Requests()); n != 0 {
		t.Errorf("provider requests = %d, want 0", n)
	}
	if n := len(f.captures(t, area.ID)); n != 0 {
		t.Errorf("captures = %d, want 0", n)
	}
}

func TestService_CaptureArea_Repeated(t *testing.T) {
	f := newFixture(t)
	area := f.addArea(t, "Farm")

	f.capture(t, area, terrainPNG)
	f.capture(t, area, changedPNG)

	captures := f.captures(t, area.ID)
	if len(captures) != 2 {
		t.Fatalf("captures = %d, want 2", len(captures))
	}
	if captures[0].TileKey != captures[1].TileKey {
		t.Errorf("tile keys differ across runs: %q vs %q", captures[0].TileKey, captures[1].TileKey)
	}
	if captures[0].ImageRef == captures[1].ImageRef {
		t.Error("repeated captures share an image key")
	}
}
