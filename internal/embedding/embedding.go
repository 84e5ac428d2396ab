// Package embedding wraps concrete embedding models behind a uniform
// capability interface.
//
// A Model is one loaded model runtime (an encoder plus its inference slot
// policy). A Backend is the logical adapter a space talks to: it decides
// whether a modality is supported and applies model-specific preprocessing
// such as the short-query prefix of cross-modal models.
package embedding

import (
	"context"
	"image"
)

// Modality is the kind of input being embedded.
type Modality string

const (
	Text  Modality = "text"
	Image Modality = "image"
)

// ParseModality converts a configuration string to a Modality.
func ParseModality(s string) (Modality, bool) {
	switch Modality(s) {
	case Text:
		return Text, true
	case Image:
		return Image, true
	}
	return "", false
}

// Hint carries optional per-request preprocessing hints.
type Hint struct {
	// Query marks the text as a short search query, enabling the
	// query-prefix heuristic on cross-modal backends.
	Query bool
}

// Backend is the capability interface every space adapter implements.
// Implementations hold no per-request state and are safe for concurrent use.
type Backend interface {
	Supports(m Modality) bool
	EmbedText(ctx context.Context, text string, hint Hint) ([]float32, error)
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
	// Model returns the loaded model this adapter wraps.
	Model() *Model
	// Fingerprint identifies everything that influences the produced vectors.
	Fingerprint() string
}

// TextEncoder is a model runtime that embeds text.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// ImageEncoder is a model runtime that embeds opaque RGB images.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img *image.RGBA) ([]float32, error)
}

// Config holds the configuration of one model backend.
type Config struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "sidecar", "ollama", "openai" or "hash"
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
	// Dims is the output size of the hash encoder and the requested size
	// for openai models that accept one. Other encoders ignore it.
	Dims int `json:"dims"`
	// Concurrency is the number of inference slots. Zero means the model
	// handles concurrent inference itself; one serializes calls.
	Concurrency int `json:"concurrency"`
	TimeoutMS   int `json:"timeout_ms"`
}
