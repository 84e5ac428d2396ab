package embedding

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/nidhogg/embedgate/internal/embederr"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	src.SetNRGBA(1, 1, color.NRGBA{R: 200, A: 255})

	img, err := DecodeImage(encodePNG(t, src))
	if err != nil {
		t.Fatalf("png: unexpected error: %v", err)
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Errorf("got bounds %v", img.Bounds())
	}

	var jbuf bytes.Buffer
	if err := jpeg.Encode(&jbuf, src, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	if _, err := DecodeImage(jbuf.Bytes()); err != nil {
		t.Errorf("jpeg: unexpected error: %v", err)
	}
}

func TestDecodeImageRejectsGarbage(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"truncated": encodePNG(t, image.NewRGBA(image.Rect(0, 0, 8, 8)))[:20],
	} {
		if _, err := DecodeImage(data); !errors.Is(err, embederr.ErrDecode) {
			t.Errorf("%s: expected decode error, got %v", name, err)
		}
	}
}

func TestToRGBDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	src.SetNRGBA(6, 5, color.NRGBA{R: 250, G: 128, B: 1, A: 100})

	rgb, err := ToRGB(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rgb.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Errorf("expected origin-anchored bounds, got %v", rgb.Bounds())
	}
	if got := rgb.RGBAAt(0, 0); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("pixel 0: got %v", got)
	}
	if got := rgb.RGBAAt(1, 0); got != (color.RGBA{R: 250, G: 128, B: 1, A: 255}) {
		t.Errorf("pixel 1: got %v", got)
	}
}
