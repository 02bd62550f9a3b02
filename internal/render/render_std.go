package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/rmarchant/sheetscan/internal/domain"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 92

type stdlibRenderer struct{}

func (stdlibRenderer) Render(ctx context.Context, input []byte, source domain.SourceImage, state domain.EditState) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, "", fmt.Errorf("decode source image: %w", err)
	}

	bounds := src.Bounds()
	natural := domain.Dimensions{Width: bounds.Dx(), Height: bounds.Dy()}
	if natural.Width < 1 || natural.Height < 1 {
		return nil, "", fmt.Errorf("source image has invalid dimensions")
	}

	crop := naturalCropRect(state.Crop, source.Displayed, natural)
	angle := normalizeRotation(state.Rotation)
	out := drawRotated(src, crop, angle, clampPercent(state.Grayscale), state.Contrast)

	data, encoded, err := encodeImage(out, formatFromMIME(source.MIME))
	if err != nil {
		return nil, "", err
	}
	return data, mimeForFormat(encoded), nil
}

// drawRotated samples the crop region onto a canvas rotated about its
// center, baking the grayscale/contrast filter into each pixel. Pixels whose
// inverse mapping falls outside the crop stay transparent; at right angles
// every output pixel maps inside.
func drawRotated(src image.Image, crop image.Rectangle, angle float64, grayscale, contrast int) *image.RGBA {
	cw := crop.Dx()
	ch := crop.Dy()
	outW, outH := rotatedBounds(cw, ch, angle)

	sin, cos := sincosDeg(angle)
	cropCX := float64(crop.Min.X) + float64(cw)/2
	cropCY := float64(crop.Min.Y) + float64(ch)/2
	outCX := float64(outW) / 2
	outCY := float64(outH) / 2

	gray := float64(grayscale) / 100
	slope := float64(contrast) / 100

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	srcMin := src.Bounds().Min
	for y := 0; y < outH; y++ {
		dy := float64(y) + 0.5 - outCY
		for x := 0; x < outW; x++ {
			dx := float64(x) + 0.5 - outCX
			sx := int(math.Floor(cropCX + dx*cos + dy*sin))
			sy := int(math.Floor(cropCY - dx*sin + dy*cos))
			if sx < crop.Min.X || sx >= crop.Max.X || sy < crop.Min.Y || sy >= crop.Max.Y {
				continue
			}

			px := color.NRGBAModel.Convert(src.At(srcMin.X+sx, srcMin.Y+sy)).(color.NRGBA)
			r, g, b := filterChannels(float64(px.R), float64(px.G), float64(px.B), gray, slope)
			dst.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: px.A})
		}
	}
	return dst
}

// filterChannels applies the composite grayscale(g%) contrast(c%) filter to
// one pixel, matching the CSS filter definitions: grayscale mixes toward the
// Rec. 709 luminance, contrast pivots around mid-gray.
func filterChannels(r, g, b, gray, slope float64) (uint8, uint8, uint8) {
	if gray > 0 {
		lum := 0.2126*r + 0.7152*g + 0.0722*b
		r += (lum - r) * gray
		g += (lum - g) * gray
		b += (lum - b) * gray
	}
	if slope != 1 {
		r = (r-127.5)*slope + 127.5
		g = (g-127.5)*slope + 127.5
		b = (b-127.5)*slope + 127.5
	}
	return clampChannel(r), clampChannel(g), clampChannel(b)
}

func clampChannel(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// encodeImage serializes the canvas. The stdlib backend cannot encode webp,
// so webp sources fall back to jpeg, mirroring the "unknown type falls back
// to image/jpeg" rule.
func encodeImage(img image.Image, format string) ([]byte, string, error) {
	if format == "webp" {
		format = "jpeg"
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
	default:
		format = "jpeg"
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", fmt.Errorf("encode jpeg: %w", err)
		}
	}

	if buf.Len() == 0 {
		return nil, "", fmt.Errorf("encode %s: produced no data", format)
	}
	return buf.Bytes(), format, nil
}
