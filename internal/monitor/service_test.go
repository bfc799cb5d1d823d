package monitor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"geowatch/internal/model"
	"geowatch/internal/monitor"
)

func TestService_AddArea(t *testing.T) {
	tests := []struct {
		name    string
		area    model.AreaConfig
		wantErr bool
	}{
		{
			name: "valid area",
			area: model.AreaConfig{Name: "  Farm  ", CenterLat: 37.4, CenterLon: -122.1, NorthKm: 1, SouthKm: 1, EastKm: 1, WestKm: 1},
		},
		{
			name: "zero extents",
			area: model.AreaConfig{Name: "Point", CenterLat: 10, CenterLon: 10},
		},
		{
			name:    "blank name",
			area:    model.AreaConfig{Name: "   ", CenterLat: 10, CenterLon: 10},
			wantErr: true,
		},
		{
			name:    "latitude at pole",
			area:    model.AreaConfig{Name: "Pole", CenterLat: 90, CenterLon: 0},
			wantErr: true,
		},
		{
			name:    "longitude out of range",
			area:    model.AreaConfig{Name: "Far", CenterLat: 0, CenterLon: 181},
			wantErr: true,
		},
		{
			name:    "negative extent",
			area:    model.AreaConfig{Name: "Neg", CenterLat: 0, CenterLon: 0, NorthKm: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			area := tt.area
			got, err := f.svc.AddArea(context.Background(), &area)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddArea() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				areas, _ := f.svc.ListAreas(context.Background())
				if len(areas) != 0 {
					t.Errorf("rejected area was stored: %+v", areas)
				}
				return
			}
			if got.ID == "" {
				t.Error("AddArea() left ID empty")
			}
			if got.CreatedAt.IsZero() {
				t.Error("AddArea() left CreatedAt zero")
			}

			stored, err := f.svc.GetArea(context.Background(), got.ID)
			if err != nil {
				t.Fatalf("GetArea() error = %v", err)
			}
			if stored.Name != got.Name || stored.Name != strings.TrimSpace(tt.area.Name) {
				t.Errorf("stored name = %q, want %q", stored.Name, strings.TrimSpace(tt.area.Name))
			}
		})
	}
}

func TestService_GetAreaMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetArea(context.Background(), "nope")
	if !errors.Is(err, monitor.ErrNotFound) {
		t.Errorf("GetArea() error = %v, want ErrNotFound", err)
	}
}

func TestService_ListAreas(t *testing.T) {
	f := newFixture(t)
	f.addArea(t, "North")
	f.addArea(t, "South")

	areas, err := f.svc.ListAreas(context.Background())
	if err != nil {
		t.Fatalf("ListAreas() error = %v", err)
	}
	if len(areas) != 2 {
		t.Fatalf("ListAreas() len = %d, want 2", len(areas))
	}
}

func TestService_Grid(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		extentKm float64
		want     int
	}{
		{"sub-tile area", 0.1, 1},
		{"zero extents", 0, 1},
		{"one km each way", 1, 81},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, err := f.svc.Grid(&model.AreaConfig{
				ID: "a", Name: "a", CenterLat: 0, CenterLon: 0,
				NorthKm: tt.extentKm, SouthKm: tt.extentKm, EastKm: tt.extentKm, WestKm: tt.extentKm,
			})
			if err != nil {
				t.Fatalf("Grid() error = %v", err)
			}
			if grid.Len() != tt.want {
				t.Errorf("Grid().Len() = %d, want %d", grid.Len(), tt.want)
			}
		})
	}
}
