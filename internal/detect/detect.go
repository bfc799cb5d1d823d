// Package detect measures visible change between two images of the same tile.
//
// The pipeline is deterministic: both images are resized to a common size,
// differenced per channel, reduced to luma, blurred, binarized, and split into
// 8-connected regions. Regions smaller than MinRegionArea are treated as noise;
// the rest contribute to the change percentage.
package detect

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	// Registers the webp decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

const (
	DefaultWidth                  = 400
	DefaultHeight                 = 400
	DefaultBlurSigma              = 1.1 // sigma OpenCV derives for a 5x5 kernel
	DefaultBinarizeThreshold      = 30
	DefaultMinRegionArea          = 100
	DefaultChangeThresholdPercent = 0.1
)

// Result is the verdict for one image pair.
type Result struct {
	Changed       bool
	ChangePercent float64 // within [0, 100], rounded to 2 decimals
	Regions       int     // regions that survived the noise filter
	Message       string
	Error         bool // true when no verdict could be reached
}

// Detector holds the normalization and threshold parameters.
type Detector struct {
	Width                  int
	Height                 int
	BlurSigma              float64
	BinarizeThreshold      uint8
	MinRegionArea          int
	ChangeThresholdPercent float64
}

// New returns a Detector with the default parameters.
func New() *Detector {
	return &Detector{
		Width:                  DefaultWidth,
		Height:                 DefaultHeight,
		BlurSigma:              DefaultBlurSigma,
		BinarizeThreshold:      DefaultBinarizeThreshold,
		MinRegionArea:          DefaultMinRegionArea,
		ChangeThresholdPercent: DefaultChangeThresholdPercent,
	}
}

// Compare decodes both images and measures how much of the frame changed.
// It never returns an error: failures produce a Result with Error set, which
// callers must treat as "no verdict" rather than "no change".
func (d *Detector) Compare(previous, current []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failed(fmt.Errorf("panic: %v", r))
		}
	}()

	if d.Width <= 0 || d.Height <= 0 {
		return failed(fmt.Errorf("invalid target size %dx%d", d.Width, d.Height))
	}

	prevImg, err := imaging.Decode(bytes.NewReader(previous))
	if err != nil {
		return failed(fmt.Errorf("decoding previous image: %w", err))
	}
	currImg, err := imaging.Decode(bytes.NewReader(current))
	if err != nil {
		return failed(fmt.Errorf("decoding current image: %w", err))
	}

	mask := d.changeMask(prevImg, currImg)
	area, regions := d.regionArea(mask)

	total := d.Width * d.Height
	percent := 100 * float64(area) / float64(total)
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return failed(fmt.Errorf("invalid change percentage"))
	}

	return Result{
		Changed:       percent > d.ChangeThresholdPercent,
		ChangePercent: math.Round(percent*100) / 100,
		Regions:       regions,
		Message:       "Comparison successful.",
	}
}

func failed(err error) Result {
	return Result{
		Changed:       false,
		ChangePercent: 0,
		Message:       fmt.Sprintf("Comparison failed: %v", err),
		Error:         true,
	}
}

// changeMask returns one bool per pixel, true where the blurred luma of the
// absolute difference exceeds the binarize threshold.
func (d *Detector) changeMask(prev, curr image.Image) []bool {
	a := imaging.Resize(prev, d.Width, d.Height, imaging.Linear)
	b := imaging.Resize(curr, d.Width, d.Height, imaging.Linear)

	diff := image.NewGray(image.Rect(0, 0, d.Width, d.Height))
	for y := 0; y < d.Height; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+d.Width*4]
		rb := b.Pix[y*b.Stride : y*b.Stride+d.Width*4]
		row := diff.Pix[y*diff.Stride : y*diff.Stride+d.Width]
		for x := 0; x < d.Width; x++ {
			i := x * 4
			dr := absDiff(ra[i], rb[i])
			dg := absDiff(ra[i+1], rb[i+1])
			db := absDiff(ra[i+2], rb[i+2])
			row[x] = uint8(math.Round(0.299*float64(dr) + 0.587*float64(dg) + 0.114*float64(db)))
		}
	}

	blurred := imaging.Blur(diff, d.BlurSigma)

	mask := make([]bool, d.Width*d.Height)
	for y := 0; y < d.Height; y++ {
		row := blurred.Pix[y*blurred.Stride:]
		for x := 0; x < d.Width; x++ {
			mask[y*d.Width+x] = row[x*4] > d.BinarizeThreshold
		}
	}
	return mask
}

// regionArea labels 8-connected regions in mask and sums the area of those
// larger than MinRegionArea.
func (d *Detector) regionArea(mask []bool) (area, regions int) {
	w, h := d.Width, d.Height
	visited := make([]bool, len(mask))
	var stack []int

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}

		size := 0
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++

			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				ny := py + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := px + dx
					if (dx == 0 && dy == 0) || nx < 0 || nx >= w {
						continue
					}
					n := ny*w + nx
					if mask[n] && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}

		if size > d.MinRegionArea {
			area += size
			regions++
		}
	}
	return area, regions
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
