package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nidhogg/embedgate/internal/embederr"
)

// Model is one loaded model runtime shared by every space that uses it.
type Model struct {
	id    string
	kind  string
	name  string
	dims  int
	text  TextEncoder
	image ImageEncoder
	slots *semaphore.Weighted // nil when the runtime handles concurrency itself
}

// NewModel builds the encoder described by cfg. It is called once per
// backend at startup; models are never loaded per request.
func NewModel(cfg Config, logger *zap.Logger) (*Model, error) {
	if cfg.ID == "" {
		return nil, embederr.Configuration("backend without id")
	}
	if cfg.Concurrency < 0 {
		return nil, embederr.Configuration("backend %q: concurrency must not be negative", cfg.ID)
	}

	var timeout time.Duration
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	m := &Model{id: cfg.ID, kind: cfg.Type, name: cfg.Model, dims: cfg.Dims}
	switch cfg.Type {
	case "sidecar":
		if cfg.Endpoint == "" {
			return nil, embederr.Configuration("backend %q: sidecar needs an endpoint", cfg.ID)
		}
		enc := NewSidecarEncoder(cfg.Endpoint, cfg.Model, timeout)
		m.text, m.image = enc, enc
	case "ollama":
		if cfg.Model == "" {
			return nil, embederr.Configuration("backend %q: ollama needs a model", cfg.ID)
		}
		m.text = NewLocalEncoder(cfg.Endpoint, cfg.Model, timeout)
	case "openai":
		m.text = NewAPIEncoder(cfg.Endpoint, cfg.APIKey, cfg.Model, cfg.Dims, timeout)
	case "hash":
		if cfg.Dims <= 0 {
			return nil, embederr.Configuration("backend %q: hash encoder needs positive dims", cfg.ID)
		}
		enc := NewHashEncoder(cfg.Dims)
		m.text, m.image = enc, enc
	default:
		return nil, embederr.Configuration("backend %q: unknown type %q", cfg.ID, cfg.Type)
	}

	if cfg.Concurrency > 0 {
		m.slots = semaphore.NewWeighted(int64(cfg.Concurrency))
	}

	logger.Info("model loaded",
		zap.String("backend", cfg.ID),
		zap.String("type", cfg.Type),
		zap.String("model", cfg.Model),
		zap.Int("concurrency", cfg.Concurrency),
	)
	return m, nil
}

// NewModelFromEncoders wraps already constructed encoders. Either may be nil.
func NewModelFromEncoders(id string, text TextEncoder, img ImageEncoder, concurrency int) *Model {
	m := &Model{id: id, kind: "custom", name: id, text: text, image: img}
	if concurrency > 0 {
		m.slots = semaphore.NewWeighted(int64(concurrency))
	}
	return m
}

// ID returns the backend id.
func (m *Model) ID() string { return m.id }

// CanEncode reports whether the runtime has the given capability.
func (m *Model) CanEncode(mod Modality) bool {
	switch mod {
	case Text:
		return m.text != nil
	case Image:
		return m.image != nil
	}
	return false
}

// Fingerprint identifies the runtime's output space.
func (m *Model) Fingerprint() string {
	if m.kind == "hash" {
		return fmt.Sprintf("hash/%d", m.dims)
	}
	return m.kind + "/" + m.name
}

func (m *Model) encodeText(ctx context.Context, text string) ([]float32, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vec, err := m.text.EncodeText(ctx, text)
	return m.finish(ctx, vec, err)
}

func (m *Model) encodeImage(ctx context.Context, img *image.RGBA) ([]float32, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vec, err := m.image.EncodeImage(ctx, img)
	return m.finish(ctx, vec, err)
}

// acquire takes an inference slot. A call whose deadline has already passed
// is refused before it starts.
func (m *Model) acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, embederr.Timeout(err)
	}
	if m.slots == nil {
		return func() {}, nil
	}
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return nil, embederr.Timeout(err)
	}
	return func() { m.slots.Release(1) }, nil
}

func (m *Model) finish(ctx context.Context, vec []float32, err error) ([]float32, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, embederr.Timeout(ctxErr)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, embederr.Timeout(err)
		}
		return nil, fmt.Errorf("embedding: %s: %w", m.id, err)
	}
	return vec, nil
}
