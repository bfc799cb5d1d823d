// Package geo converts an area definition into a bounding box and a grid of
// fixed-size tiles with stable identity keys.
package geo

import (
	"fmt"
	"math"
	"strings"

	"geowatch/internal/model"
)

const (
	// EarthRadiusMeters is the mean Earth radius used for all offsets.
	EarthRadiusMeters = 6371000.0

	// DefaultTileSizeMeters matches the ground footprint of a 400x400 px
	// satellite image at zoom 21.
	DefaultTileSizeMeters = 236.0

	// KeyPrecision is the number of decimal places tile centers are rounded
	// to when building a tile key.
	KeyPrecision = 6
)

// BoundingBox is an axis-aligned lat/lon rectangle in degrees.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Tile is one grid cell, addressed by its row (I) and column (J).
type Tile struct {
	I, J int
	Lat  float64
	Lon  float64
	Key  string
}

// MetersToLatDegrees converts a north/south distance to degrees of latitude.
func MetersToLatDegrees(meters float64) float64 {
	return meters / (EarthRadiusMeters * (math.Pi / 180.0))
}

// MetersToLonDegrees converts an east/west distance at the given latitude to
// degrees of longitude. Meridians converge toward the poles, so the same
// distance spans more degrees at higher latitudes.
func MetersToLonDegrees(meters, latitude float64) float64 {
	return meters / (EarthRadiusMeters * math.Cos(latitude*math.Pi/180.0) * (math.Pi / 180.0))
}

// BoundingBoxFor returns the bounding box covering the area's extents.
func BoundingBoxFor(area *model.AreaConfig) BoundingBox {
	return BoundingBox{
		MinLat: area.CenterLat - MetersToLatDegrees(area.SouthKm*1000),
		MaxLat: area.CenterLat + MetersToLatDegrees(area.NorthKm*1000),
		MinLon: area.CenterLon - MetersToLonDegrees(area.WestKm*1000, area.CenterLat),
		MaxLon: area.CenterLon + MetersToLonDegrees(area.EastKm*1000, area.CenterLat),
	}
}

// Grid enumerates the tiles covering an area.
type Grid struct {
	AreaID         string
	Box            BoundingBox
	TileSizeMeters float64
	LatTiles       int
	LonTiles       int
}

// NewGrid computes the tile grid for an area. An area with zero extents still
// has one cell.
func NewGrid(area *model.AreaConfig, tileSizeMeters float64) (*Grid, error) {
	if tileSizeMeters <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %v", tileSizeMeters)
	}
	if err := area.Validate(); err != nil {
		return nil, fmt.Errorf("invalid area: %w", err)
	}

	latMeters := (area.NorthKm + area.SouthKm) * 1000
	lonMeters := (area.EastKm + area.WestKm) * 1000

	return &Grid{
		AreaID:         area.ID,
		Box:            BoundingBoxFor(area),
		TileSizeMeters: tileSizeMeters,
		LatTiles:       tileCount(latMeters, tileSizeMeters),
		LonTiles:       tileCount(lonMeters, tileSizeMeters),
	}, nil
}

func tileCount(meters, size float64) int {
	n := int(math.Ceil(meters / size))
	if n < 1 {
		return 1
	}
	return n
}

// Len returns the number of tiles in the grid.
func (g *Grid) Len() int {
	return g.LatTiles * g.LonTiles
}

// Tiles returns every tile in row-major order.
func (g *Grid) Tiles() []Tile {
	tiles := make([]Tile, 0, g.Len())
	half := g.TileSizeMeters / 2.0
	for i := 0; i < g.LatTiles; i++ {
		lat := g.Box.MinLat + MetersToLatDegrees(float64(i)*g.TileSizeMeters+half)
		for j := 0; j < g.LonTiles; j++ {
			lon := g.Box.MinLon + MetersToLonDegrees(float64(j)*g.TileSizeMeters+half, lat)
			tiles = append(tiles, Tile{
				I:   i,
				J:   j,
				Lat: lat,
				Lon: lon,
				Key: TileKey(g.AreaID, lat, lon),
			})
		}
	}
	return tiles
}

// TileKey returns the identity of the cell centered at lat/lon within an area.
// Centers are rounded to KeyPrecision decimals so repeated runs over the same
// area produce the same key for the same cell.
func TileKey(areaID string, lat, lon float64) string {
	key := fmt.Sprintf("%s_%.*f_%.*f", areaID, KeyPrecision, lat, KeyPrecision, lon)
	return strings.ReplaceAll(key, ".", "_")
}
