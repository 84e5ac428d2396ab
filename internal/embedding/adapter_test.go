package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/nidhogg/embedgate/internal/embederr"
)

func TestCrossModalQueryPrefix(t *testing.T) {
	enc := &recordingEncoder{}
	a := NewCrossModalAdapter("clip", NewModelFromEncoders("clip", enc, enc, 0), []Modality{Text, Image}, "", 0)
	ctx := context.Background()

	cases := []struct {
		text string
		hint Hint
		want string
	}{
		{"shoes", Hint{Query: true}, "a photo of shoes"},
		{"blue running shoes", Hint{Query: true}, "a photo of blue running shoes"},
		{"blue running shoes", Hint{}, "blue running shoes"},
		{"comfortable blue running shoes for trails", Hint{Query: true}, "comfortable blue running shoes for trails"},
		{"", Hint{Query: true}, ""},
	}
	for _, tc := range cases {
		if _, err := a.EmbedText(ctx, tc.text, tc.hint); err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.text, err)
		}
		if got := enc.lastText(); got != tc.want {
			t.Errorf("%q (query=%v): encoded %q, want %q", tc.text, tc.hint.Query, got, tc.want)
		}
	}
}

func TestCrossModalCustomTemplate(t *testing.T) {
	enc := &recordingEncoder{}
	a := NewCrossModalAdapter("clip", NewModelFromEncoders("clip", enc, enc, 0), []Modality{Text}, "product photo: {text}", 2)

	if _, err := a.EmbedText(context.Background(), "red hat", Hint{Query: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := enc.lastText(); got != "product photo: red hat" {
		t.Errorf("encoded %q", got)
	}
	if _, err := a.EmbedText(context.Background(), "big red hat", Hint{Query: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := enc.lastText(); got != "big red hat" {
		t.Errorf("three words over a two-word limit should not be prefixed, encoded %q", got)
	}
}

func TestTextOnlyIgnoresHint(t *testing.T) {
	enc := &recordingEncoder{}
	a := NewTextOnlyAdapter("search", NewModelFromEncoders("msmarco", enc, nil, 0))

	if _, err := a.EmbedText(context.Background(), "shoes", Hint{Query: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := enc.lastText(); got != "shoes" {
		t.Errorf("text-only adapter must not prefix, encoded %q", got)
	}
}

func TestUnsupportedModality(t *testing.T) {
	enc := &recordingEncoder{}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	textOnly := NewTextOnlyAdapter("search", NewModelFromEncoders("m", enc, enc, 0))
	if textOnly.Supports(Image) {
		t.Error("text-only adapter must not support images")
	}
	if _, err := textOnly.EmbedImage(context.Background(), img); !errors.Is(err, embederr.ErrUnsupportedModality) {
		t.Errorf("expected unsupported modality, got %v", err)
	}

	imageOnly := NewCrossModalAdapter("photos", NewModelFromEncoders("m", enc, enc, 0), []Modality{Image}, "", 0)
	if _, err := imageOnly.EmbedText(context.Background(), "x", Hint{}); !errors.Is(err, embederr.ErrUnsupportedModality) {
		t.Errorf("expected unsupported modality, got %v", err)
	}

	noImageEncoder := NewCrossModalAdapter("clip", NewModelFromEncoders("m", enc, nil, 0), []Modality{Text, Image}, "", 0)
	if noImageEncoder.Supports(Image) {
		t.Error("adapter over a text-only model must not claim image support")
	}
}

func TestCrossModalImageZeroDimensions(t *testing.T) {
	enc := &recordingEncoder{}
	a := NewCrossModalAdapter("clip", NewModelFromEncoders("m", enc, enc, 0), []Modality{Image}, "", 0)

	_, err := a.EmbedImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 5)))
	if !errors.Is(err, embederr.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	_, err = a.EmbedImage(context.Background(), nil)
	if !errors.Is(err, embederr.ErrDecode) {
		t.Fatalf("expected decode error for nil image, got %v", err)
	}
}

func TestCrossModalImageIsColorNormalized(t *testing.T) {
	h := NewHashEncoder(16)
	a := NewCrossModalAdapter("clip", NewModelFromEncoders("hash", h, h, 0), []Modality{Image}, "", 0)
	ctx := context.Background()

	gray := image.NewGray(image.Rect(0, 0, 3, 3))
	rgba := image.NewNRGBA(image.Rect(10, 10, 13, 13))
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			v := uint8(40 * (x + y))
			gray.SetGray(x, y, color.Gray{Y: v})
			rgba.SetNRGBA(10+x, 10+y, color.NRGBA{R: v, G: v, B: v, A: 0x80})
		}
	}

	a1, err := a.EmbedImage(ctx, gray)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := a.EmbedImage(ctx, rgba)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("same pixels in different encodings produced different vectors at %d", i)
		}
	}
}

func TestFingerprintChangesWithTemplate(t *testing.T) {
	m := NewModelFromEncoders("m", &recordingEncoder{}, nil, 0)
	a := NewCrossModalAdapter("clip", m, []Modality{Text}, "", 0)
	b := NewCrossModalAdapter("clip", m, []Modality{Text}, "an image of {text}", 0)
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different templates must yield different fingerprints")
	}
}
