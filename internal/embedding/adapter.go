package embedding

import (
	"context"
	"image"
	"strconv"
	"strings"

	"github.com/nidhogg/embedgate/internal/embederr"
)

const (
	// DefaultQueryPrefix is the template applied to short queries on
	// cross-modal models. {text} is replaced by the query.
	DefaultQueryPrefix = "a photo of {text}"
	// DefaultQueryMaxWords is the longest query, in words, that gets prefixed.
	DefaultQueryMaxWords = 3
)

// CrossModalAdapter serves a space whose model was trained jointly on text
// and images. Short search queries are rendered into a caption-like template
// before encoding, which is only applied when the request asks for it.
type CrossModalAdapter struct {
	space      string
	model      *Model
	modalities map[Modality]bool
	prefix     string
	maxWords   int
}

// NewCrossModalAdapter creates a cross-modal adapter over model.
// An empty prefix or non-positive maxWords selects the defaults.
func NewCrossModalAdapter(space string, model *Model, modalities []Modality, prefix string, maxWords int) *CrossModalAdapter {
	if prefix == "" {
		prefix = DefaultQueryPrefix
	}
	if maxWords <= 0 {
		maxWords = DefaultQueryMaxWords
	}
	set := make(map[Modality]bool, len(modalities))
	for _, m := range modalities {
		set[m] = true
	}
	return &CrossModalAdapter{space: space, model: model, modalities: set, prefix: prefix, maxWords: maxWords}
}

func (a *CrossModalAdapter) Supports(m Modality) bool {
	return a.modalities[m] && a.model.CanEncode(m)
}

// EmbedText encodes text, applying the query prefix when hint.Query is set
// and the text has between one and maxWords words.
func (a *CrossModalAdapter) EmbedText(ctx context.Context, text string, hint Hint) ([]float32, error) {
	if !a.Supports(Text) {
		return nil, embederr.UnsupportedModality(a.space, string(Text))
	}
	if hint.Query {
		text = a.applyPrefix(text)
	}
	return a.model.encodeText(ctx, text)
}

func (a *CrossModalAdapter) applyPrefix(text string) string {
	words := len(strings.Fields(text))
	if words == 0 || words > a.maxWords {
		return text
	}
	if strings.Contains(a.prefix, "{text}") {
		return strings.ReplaceAll(a.prefix, "{text}", text)
	}
	return a.prefix + text
}

// EmbedImage converts img to opaque RGB and encodes it.
func (a *CrossModalAdapter) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	if !a.Supports(Image) {
		return nil, embederr.UnsupportedModality(a.space, string(Image))
	}
	rgb, err := ToRGB(img)
	if err != nil {
		return nil, err
	}
	return a.model.encodeImage(ctx, rgb)
}

func (a *CrossModalAdapter) Model() *Model { return a.model }

func (a *CrossModalAdapter) Fingerprint() string {
	return a.model.Fingerprint() + "|xmodal|" + a.prefix + "|" + strconv.Itoa(a.maxWords)
}

// TextOnlyAdapter serves a space whose model only understands text.
// Text is passed through verbatim; hints are ignored.
type TextOnlyAdapter struct {
	space string
	model *Model
}

// NewTextOnlyAdapter creates a text-only adapter over model.
func NewTextOnlyAdapter(space string, model *Model) *TextOnlyAdapter {
	return &TextOnlyAdapter{space: space, model: model}
}

func (a *TextOnlyAdapter) Supports(m Modality) bool {
	return m == Text && a.model.CanEncode(Text)
}

func (a *TextOnlyAdapter) EmbedText(ctx context.Context, text string, _ Hint) ([]float32, error) {
	if !a.Supports(Text) {
		return nil, embederr.UnsupportedModality(a.space, string(Text))
	}
	return a.model.encodeText(ctx, text)
}

func (a *TextOnlyAdapter) EmbedImage(context.Context, image.Image) ([]float32, error) {
	return nil, embederr.UnsupportedModality(a.space, string(Image))
}

func (a *TextOnlyAdapter) Model() *Model { return a.model }

func (a *TextOnlyAdapter) Fingerprint() string {
	return a.model.Fingerprint() + "|text"
}

var (
	_ Backend = (*CrossModalAdapter)(nil)
	_ Backend = (*TextOnlyAdapter)(nil)
)
