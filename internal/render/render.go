package render

import (
	"context"
	"image"
	"math"

	"github.com/rmarchant/sheetscan/internal/domain"
)

// Renderer rasterizes a session's edit state against the original image
// bytes and returns the encoded result plus its MIME type. Implementations
// must not mutate their inputs.
type Renderer interface {
	Render(ctx context.Context, input []byte, source domain.SourceImage, state domain.EditState) (data []byte, mime string, err error)
}

func NewRenderer() (Renderer, error) {
	return newRenderer()
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// normalizeRotation maps any integer degree value into [0, 360).
func normalizeRotation(deg int) float64 {
	r := math.Mod(float64(deg), 360)
	if r < 0 {
		r += 360
	}
	return r
}

// sincosDeg returns sin/cos for a degree angle, exact at right angles so
// 0/90/180/270 never suffer float drift.
func sincosDeg(deg float64) (sin, cos float64) {
	switch deg {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	rad := deg * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

// rotatedBounds is the bounding box of a w x h rectangle rotated by deg
// degrees. Right angles keep or swap the exact input dimensions.
func rotatedBounds(w, h int, deg float64) (int, int) {
	sin, cos := sincosDeg(deg)
	switch deg {
	case 0, 180:
		return w, h
	case 90, 270:
		return h, w
	}
	outW := int(math.Round(math.Abs(float64(w)*cos) + math.Abs(float64(h)*sin)))
	outH := int(math.Round(math.Abs(float64(w)*sin) + math.Abs(float64(h)*cos)))
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}

// naturalCropRect resolves the displayed-unit crop into natural pixels,
// clamped to the image bounds. A nil crop means the full displayed image.
func naturalCropRect(crop *domain.Rect, displayed, natural domain.Dimensions) image.Rectangle {
	if displayed.Width <= 0 || displayed.Height <= 0 {
		displayed = natural
	}
	if crop == nil {
		crop = &domain.Rect{Width: float64(displayed.Width), Height: float64(displayed.Height)}
	}

	scaleX := float64(natural.Width) / float64(displayed.Width)
	scaleY := float64(natural.Height) / float64(displayed.Height)

	minX := int(math.Round(crop.X * scaleX))
	minY := int(math.Round(crop.Y * scaleY))
	maxX := int(math.Round((crop.X + crop.Width) * scaleX))
	maxY := int(math.Round((crop.Y + crop.Height) * scaleY))

	rect := image.Rect(minX, minY, maxX, maxY).Intersect(image.Rect(0, 0, natural.Width, natural.Height))
	if rect.Dx() < 1 || rect.Dy() < 1 {
		rect = image.Rect(0, 0, natural.Width, natural.Height)
	}
	return rect
}

// formatFromMIME resolves the encode target from the source MIME type. An
// unknown type falls back to jpeg.
func formatFromMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}

func mimeForFormat(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
