package encoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"path"
	"strings"

	"github.com/disintegration/imageorient"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// Thumbnailer scales images down to fit a bounding box and re-encodes them as JPEG
type Thumbnailer struct {
	Width   int
	Height  int
	Quality int
}

func NewThumbnailer(width, height int) *Thumbnailer {
	return &Thumbnailer{Width: width, Height: height, Quality: jpeg.DefaultQuality}
}

func (t *Thumbnailer) Name() string { return "thumb" }

func (t *Thumbnailer) Ext() string { return ".jpg" }

func (t *Thumbnailer) Accepts(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		return true
	}
	return false
}

func (t *Thumbnailer) Encode(data []byte) ([]byte, error) {
	// honours EXIF orientation of JPEGs
	orig, _, err := imageorient.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := orig.Bounds()
	width, height := resizedDimensions(bounds.Dx(), bounds.Dy(), t.Width, t.Height)
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("image of %dx%d is too small to thumbnail", bounds.Dx(), bounds.Dy())
	}

	thumb := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), orig, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: t.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// resizedDimensions fits width x height into the target box, never upscaling
func resizedDimensions(width, height, targetw, targeth int) (int, int) {
	ratio := math.Min(float64(targetw)/float64(width), float64(targeth)/float64(height))
	ratio = math.Min(ratio, 1)

	return int(float64(width) * ratio), int(float64(height) * ratio)
}
