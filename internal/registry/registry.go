// Package registry holds the embedding spaces the gateway serves.
package registry

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/embedding"
	"github.com/nidhogg/embedgate/internal/embederr"
)

// Space is one registered embedding space.
type Space struct {
	ID         string
	Dims       int
	Modalities []embedding.Modality
	Backend    embedding.Backend
}

// Supports reports whether the space accepts the modality.
func (s *Space) Supports(m embedding.Modality) bool {
	return s.Backend.Supports(m)
}

// Registry maps space ids to their adapters. It is populated at startup and
// read concurrently afterwards.
type Registry struct {
	spaces map[string]*Space
	order  []string
	mu     sync.RWMutex
	logger *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		spaces: make(map[string]*Space),
		logger: logger,
	}
}

// Register adds a space. Duplicate ids and inconsistent definitions are
// configuration errors.
func (r *Registry) Register(s *Space) error {
	if s.ID == "" {
		return embederr.Configuration("space without id")
	}
	if s.Backend == nil {
		return embederr.Configuration("space %q: no backend", s.ID)
	}
	if s.Dims <= 0 {
		return embederr.Configuration("space %q: dims must be positive, got %d", s.ID, s.Dims)
	}
	if len(s.Modalities) == 0 {
		return embederr.Configuration("space %q: no modalities", s.ID)
	}
	for _, m := range s.Modalities {
		if !s.Backend.Supports(m) {
			return embederr.Configuration("space %q: backend %q cannot embed %s", s.ID, s.Backend.Model().ID(), m)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.spaces[s.ID]; ok {
		return embederr.Configuration("space %q registered twice", s.ID)
	}
	r.spaces[s.ID] = s
	r.order = append(r.order, s.ID)
	r.logger.Info("registered space",
		zap.String("space", s.ID),
		zap.Int("dims", s.Dims),
		zap.String("backend", s.Backend.Model().ID()),
		zap.Any("modalities", s.Modalities),
	)
	return nil
}

// Resolve returns the space with the given id.
func (r *Registry) Resolve(id string) (*Space, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.spaces[id]
	if !ok {
		return nil, embederr.UnknownSpace(id)
	}
	return s, nil
}

// AllSpaces returns every space in registration order.
func (r *Registry) AllSpaces() []*Space {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Space, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.spaces[id])
	}
	return result
}

// Supporting returns the spaces that accept the modality, in registration order.
func (r *Registry) Supporting(m embedding.Modality) []*Space {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*Space
	for _, id := range r.order {
		if s := r.spaces[id]; s.Supports(m) {
			result = append(result, s)
		}
	}
	return result
}

// Models returns the distinct loaded models behind the registered spaces.
func (r *Registry) Models() []*embedding.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*embedding.Model]bool)
	var result []*embedding.Model
	for _, id := range r.order {
		m := r.spaces[id].Backend.Model()
		if !seen[m] {
			seen[m] = true
			result = append(result, m)
		}
	}
	return result
}

// Len returns the number of registered spaces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Warmup runs one probe embedding through every space and checks the
// dimensionality the backend actually produces against the configured one.
func (r *Registry) Warmup(ctx context.Context) error {
	probe := image.NewRGBA(image.Rect(0, 0, 1, 1))
	probe.SetRGBA(0, 0, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})

	for _, s := range r.AllSpaces() {
		var (
			vec []float32
			err error
		)
		switch {
		case s.Supports(embedding.Text):
			vec, err = s.Backend.EmbedText(ctx, "", embedding.Hint{})
		case s.Supports(embedding.Image):
			vec, err = s.Backend.EmbedImage(ctx, probe)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("registry: warmup %s: %w", s.ID, err)
		}
		if len(vec) != s.Dims {
			return embederr.Configuration("space %q: backend produced %d dimensions, configured %d", s.ID, len(vec), s.Dims)
		}
		r.logger.Info("space warmed up", zap.String("space", s.ID), zap.Int("dims", len(vec)))
	}
	return nil
}
