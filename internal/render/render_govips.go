//go:build govips && cgo

package render

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/rmarchant/sheetscan/internal/domain"
)

type govipsRenderer struct{}

func (govipsRenderer) Render(ctx context.Context, input []byte, source domain.SourceImage, state domain.EditState) ([]byte, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return nil, "", fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	natural := domain.Dimensions{Width: img.Width(), Height: img.Height()}
	if natural.Width < 1 || natural.Height < 1 {
		return nil, "", fmt.Errorf("source image has invalid dimensions")
	}

	crop := naturalCropRect(state.Crop, source.Displayed, natural)
	if err := img.ExtractArea(crop.Min.X, crop.Min.Y, crop.Dx(), crop.Dy()); err != nil {
		return nil, "", fmt.Errorf("crop image: %w", err)
	}

	if gray := clampPercent(state.Grayscale); gray > 0 {
		if err := img.Modulate(1, 1-float64(gray)/100, 0); err != nil {
			return nil, "", fmt.Errorf("apply grayscale: %w", err)
		}
	}
	if state.Contrast != 100 {
		slope := float64(state.Contrast) / 100
		if err := img.Linear1(slope, 127.5*(1-slope)); err != nil {
			return nil, "", fmt.Errorf("apply contrast: %w", err)
		}
	}

	if err := rotateGovips(img, normalizeRotation(state.Rotation)); err != nil {
		return nil, "", err
	}

	format := formatFromMIME(source.MIME)
	data, err := exportGovipsImage(img, format)
	if err != nil {
		return nil, "", err
	}
	return data, mimeForFormat(format), nil
}

func rotateGovips(img *vips.ImageRef, angle float64) error {
	var err error
	switch angle {
	case 0:
	case 90:
		err = img.Rotate(vips.Angle90)
	case 180:
		err = img.Rotate(vips.Angle180)
	case 270:
		err = img.Rotate(vips.Angle270)
	default:
		err = img.Similarity(1, angle, &vips.ColorRGBA{}, 0, 0, 0, 0)
	}
	if err != nil {
		return fmt.Errorf("rotate image: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format string) ([]byte, error) {
	switch format {
	case "png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "webp":
		data, _, err := img.ExportWebp(vips.NewWebpExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		params := vips.NewJpegExportParams()
		params.Quality = jpegQuality
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	}
}
