package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/rmarchant/sheetscan/internal/domain"
)

func TestRenderRightAngleDimensions(t *testing.T) {
	input := buildTestPNG(t, 240, 120, color.RGBA{R: 200, G: 90, B: 40, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 240, Height: 120}}

	cases := []struct {
		rotation int
		width    int
		height   int
	}{
		{0, 240, 120},
		{90, 120, 240},
		{180, 240, 120},
		{270, 120, 240},
		{360, 240, 120},
		{-90, 120, 240},
	}

	for _, tc := range cases {
		state := domain.DefaultEditState()
		state.Rotation = tc.rotation

		data, mime, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
		if err != nil {
			t.Fatalf("render rotation=%d: %v", tc.rotation, err)
		}
		if mime != "image/png" {
			t.Fatalf("render rotation=%d: expected image/png, got %s", tc.rotation, mime)
		}

		w, h := decodeDimensions(t, data)
		if w != tc.width || h != tc.height {
			t.Fatalf("render rotation=%d: expected %dx%d, got %dx%d", tc.rotation, tc.width, tc.height, w, h)
		}
	}
}

func TestRenderCropUsesDisplayedUnits(t *testing.T) {
	input := buildTestPNG(t, 200, 100, color.RGBA{R: 10, G: 120, B: 230, A: 255})
	source := domain.SourceImage{
		MIME:      "image/png",
		Natural:   domain.Dimensions{Width: 200, Height: 100},
		Displayed: domain.Dimensions{Width: 100, Height: 50},
	}

	state := domain.DefaultEditState()
	state.Crop = &domain.Rect{X: 10, Y: 5, Width: 50, Height: 25}

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	// 2x displayed-to-natural scale on both axes.
	w, h := decodeDimensions(t, data)
	if w != 100 || h != 50 {
		t.Fatalf("expected 100x50, got %dx%d", w, h)
	}
}

func TestRenderDefaultCropCoversFullImage(t *testing.T) {
	input := buildTestPNG(t, 64, 48, color.RGBA{R: 77, G: 77, B: 77, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 64, Height: 48}}

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, domain.DefaultEditState())
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	w, h := decodeDimensions(t, data)
	if w != 64 || h != 48 {
		t.Fatalf("expected 64x48, got %dx%d", w, h)
	}
}

func TestRenderQuarterTurnMovesPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}

	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 2, Height: 1}}
	state := domain.DefaultEditState()
	state.Rotation = 90

	data, _, err := stdlibRenderer{}.Render(context.Background(), buf.Bytes(), source, state)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Bounds().Dx() != 1 || out.Bounds().Dy() != 2 {
		t.Fatalf("expected 1x2 output, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}

	top := color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA)
	bottom := color.NRGBAModel.Convert(out.At(0, 1)).(color.NRGBA)
	if top.R != 255 || top.B != 0 {
		t.Fatalf("expected left pixel on top after clockwise turn, got %+v", top)
	}
	if bottom.B != 255 || bottom.R != 0 {
		t.Fatalf("expected right pixel on bottom after clockwise turn, got %+v", bottom)
	}
}

func TestRenderGrayscaleEqualizesChannels(t *testing.T) {
	input := buildTestPNG(t, 8, 8, color.RGBA{R: 200, G: 40, B: 90, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 8, Height: 8}}

	state := domain.DefaultEditState()
	state.Grayscale = 100

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	px := color.NRGBAModel.Convert(out.At(4, 4)).(color.NRGBA)
	if px.R != px.G || px.G != px.B {
		t.Fatalf("expected equal channels at full grayscale, got %+v", px)
	}
}

func TestRenderGrayscaleClampsInput(t *testing.T) {
	input := buildTestPNG(t, 16, 16, color.RGBA{R: 180, G: 60, B: 20, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 16, Height: 16}}

	render := func(grayscale int) []byte {
		state := domain.DefaultEditState()
		state.Grayscale = grayscale
		data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
		if err != nil {
			t.Fatalf("render grayscale=%d: %v", grayscale, err)
		}
		return data
	}

	if !bytes.Equal(render(250), render(100)) {
		t.Fatal("expected grayscale 250 to clamp to 100")
	}
	if !bytes.Equal(render(-10), render(0)) {
		t.Fatal("expected grayscale -10 to clamp to 0")
	}
}

func TestRenderContrastPivotsAroundMidGray(t *testing.T) {
	input := buildTestPNG(t, 4, 4, color.RGBA{R: 140, G: 140, B: 140, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 4, Height: 4}}

	state := domain.DefaultEditState()
	state.Contrast = 150

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	px := color.NRGBAModel.Convert(out.At(1, 1)).(color.NRGBA)
	// (140 - 127.5) * 1.5 + 127.5 = 146.25
	if px.R != 146 {
		t.Fatalf("expected contrast-stretched value 146, got %d", px.R)
	}
}

func TestRenderIdentityPreservesPixels(t *testing.T) {
	input := buildTestPNG(t, 10, 10, color.RGBA{R: 33, G: 66, B: 99, A: 255})
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 10, Height: 10}}

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, domain.DefaultEditState())
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	px := color.NRGBAModel.Convert(out.At(5, 5)).(color.NRGBA)
	if px.R != 33 || px.G != 66 || px.B != 99 {
		t.Fatalf("expected identity render to preserve pixels, got %+v", px)
	}
}

func TestRenderArbitraryAngle(t *testing.T) {
	fill := color.RGBA{R: 120, G: 200, B: 50, A: 255}
	input := buildTestPNG(t, 100, 50, fill)
	source := domain.SourceImage{MIME: "image/png", Natural: domain.Dimensions{Width: 100, Height: 50}}

	state := domain.DefaultEditState()
	state.Rotation = 45

	data, _, err := stdlibRenderer{}.Render(context.Background(), input, source, state)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	out, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}

	// 100*cos45 + 50*sin45 rounds to 106 on both axes.
	if out.Bounds().Dx() != 106 || out.Bounds().Dy() != 106 {
		t.Fatalf("expected 106x106 output, got %dx%d", out.Bounds().Dx(), out.Bounds().Dy())
	}

	center := color.NRGBAModel.Convert(out.At(53, 53)).(color.NRGBA)
	if center.R != fill.R || center.G != fill.G || center.B != fill.B {
		t.Fatalf("expected source color at center, got %+v", center)
	}
	corner := color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA)
	if corner.A != 0 {
		t.Fatalf("expected transparent corner outside rotated content, got %+v", corner)
	}
}

func TestRenderUnknownMIMEFallsBackToJPEG(t *testing.T) {
	input := buildTestPNG(t, 12, 12, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	source := domain.SourceImage{MIME: "application/octet-stream", Natural: domain.Dimensions{Width: 12, Height: 12}}

	data, mime, err := stdlibRenderer{}.Render(context.Background(), input, source, domain.DefaultEditState())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if mime != "image/jpeg" {
		t.Fatalf("expected image/jpeg fallback, got %s", mime)
	}
	if _, format, err := image.Decode(bytes.NewReader(data)); err != nil || format != "jpeg" {
		t.Fatalf("expected jpeg output, got format=%s err=%v", format, err)
	}
}

func TestRenderWebpSourceFallsBackToJPEG(t *testing.T) {
	input := buildTestPNG(t, 12, 12, color.RGBA{R: 90, G: 90, B: 90, A: 255})
	source := domain.SourceImage{MIME: "image/webp", Natural: domain.Dimensions{Width: 12, Height: 12}}

	_, mime, err := stdlibRenderer{}.Render(context.Background(), input, source, domain.DefaultEditState())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if mime != "image/jpeg" {
		t.Fatalf("expected image/jpeg fallback for webp output, got %s", mime)
	}
}

func TestRenderRejectsUndecodableInput(t *testing.T) {
	source := domain.SourceImage{MIME: "image/png"}
	if _, _, err := (stdlibRenderer{}).Render(context.Background(), []byte("not an image"), source, domain.DefaultEditState()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNormalizeRotation(t *testing.T) {
	cases := map[int]float64{
		0:    0,
		90:   90,
		360:  0,
		450:  90,
		-90:  270,
		-450: 270,
	}
	for in, want := range cases {
		if got := normalizeRotation(in); got != want {
			t.Fatalf("normalizeRotation(%d): expected %v, got %v", in, want, got)
		}
	}
}

func TestClampPercent(t *testing.T) {
	if got := clampPercent(-10); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := clampPercent(250); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if got := clampPercent(40); got != 40 {
		t.Fatalf("expected 40, got %d", got)
	}
}

func TestNaturalCropRectClampsToBounds(t *testing.T) {
	natural := domain.Dimensions{Width: 100, Height: 100}
	crop := &domain.Rect{X: 80, Y: 80, Width: 60, Height: 60}

	rect := naturalCropRect(crop, natural, natural)
	if rect.Max.X > 100 || rect.Max.Y > 100 {
		t.Fatalf("expected crop clamped to image bounds, got %v", rect)
	}
	if rect.Dx() != 20 || rect.Dy() != 20 {
		t.Fatalf("expected 20x20 crop, got %dx%d", rect.Dx(), rect.Dy())
	}
}

func buildTestPNG(t *testing.T, w, h int, fill color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func decodeDimensions(t *testing.T, data []byte) (int, int) {
	t.Helper()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output image: %v", err)
	}
	return cfg.Width, cfg.Height
}
