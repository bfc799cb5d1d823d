package monitor

import "context"

// FetchRequest describes one imagery request centered on a tile.
type FetchRequest struct {
	Lat    float64
	Lon    float64
	Zoom   int
	Width  int
	Height int
}

// ImageryProvider fetches satellite imagery by coordinate. Implementations do
// not retry; a failed fetch means the tile is not captured this pass.
type ImageryProvider interface {
	Fetch(ctx context.Context, req FetchRequest) ([]byte, error)
}
