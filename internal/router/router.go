// Package router turns embedding requests into unit vectors: it picks the
// target spaces, calls their adapters, normalizes and checks every vector,
// and assembles the response.
package router

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nidhogg/embedgate/internal/cache"
	"github.com/nidhogg/embedgate/internal/embedding"
	"github.com/nidhogg/embedgate/internal/embederr"
	"github.com/nidhogg/embedgate/internal/metrics"
	"github.com/nidhogg/embedgate/internal/registry"
	"github.com/nidhogg/embedgate/internal/vector"
)

// AllSpaces selects every space that supports the request's modality.
const AllSpaces = "all"

// DefaultTimeout bounds a request when neither the request nor the
// configuration sets a timeout.
const DefaultTimeout = 30 * time.Second

// ImageSource resolves an image reference to file contents.
type ImageSource interface {
	Resolve(ref string) ([]byte, error)
}

// TextRequest asks for the embedding of a piece of text.
type TextRequest struct {
	Text string
	// Space is a space id, "all", or empty for the default space.
	Space string
	// Spaces is an explicit list of space ids. Mutually exclusive with Space.
	Spaces  []string
	Hint    embedding.Hint
	Timeout time.Duration
}

// ImageRequest asks for the embedding of an uploaded image.
type ImageRequest struct {
	Reference string
	Space     string
	Spaces    []string
	Timeout   time.Duration
}

// Options configures a Router.
type Options struct {
	// DefaultSpace serves requests that name no space.
	DefaultSpace   string
	DefaultTimeout time.Duration
	// Cache is optional.
	Cache   cache.Cache
	Metrics *metrics.Metrics
}

// Router is the single entry point for embedding requests.
type Router struct {
	registry       *registry.Registry
	images         ImageSource
	cache          cache.Cache
	metrics        *metrics.Metrics
	defaultSpace   string
	defaultTimeout time.Duration
	logger         *zap.Logger
}

// New creates a Router over a populated registry.
func New(reg *registry.Registry, images ImageSource, opts Options, logger *zap.Logger) *Router {
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Router{
		registry:       reg,
		images:         images,
		cache:          opts.Cache,
		metrics:        opts.Metrics,
		defaultSpace:   opts.DefaultSpace,
		defaultTimeout: timeout,
		logger:         logger,
	}
}

// EmbedText embeds text into the requested spaces. Surrounding whitespace is
// trimmed; the empty string is a valid input.
func (r *Router) EmbedText(ctx context.Context, req TextRequest) (resp Response, err error) {
	start := time.Now()
	defer func() { r.observe(embedding.Text, start, err) }()

	text := strings.TrimSpace(req.Text)
	spaces, multi, err := r.selectSpaces(req.Space, req.Spaces, embedding.Text)
	if err != nil {
		return Response{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout(req.Timeout))
	defer cancel()

	modKey := string(embedding.Text)
	if req.Hint.Query {
		modKey += "+query"
	}

	results, err := r.fanOut(ctx, spaces, func(ctx context.Context, sp *registry.Space) (Result, error) {
		return r.embedOne(ctx, sp, embedding.Text, modKey, []byte(text), func(ctx context.Context) ([]float32, error) {
			return sp.Backend.EmbedText(ctx, text, req.Hint)
		})
	})
	if err != nil {
		return Response{}, err
	}
	return assemble(results, multi), nil
}

// EmbedImage resolves the reference, decodes the image once and embeds it
// into the requested spaces.
func (r *Router) EmbedImage(ctx context.Context, req ImageRequest) (resp Response, err error) {
	start := time.Now()
	defer func() { r.observe(embedding.Image, start, err) }()

	spaces, multi, err := r.selectSpaces(req.Space, req.Spaces, embedding.Image)
	if err != nil {
		return Response{}, err
	}
	if r.images == nil {
		return Response{}, embederr.Internal(errors.New("router: no image source configured"))
	}

	data, err := r.images.Resolve(req.Reference)
	if err != nil {
		return Response{}, err
	}
	decode := sync.OnceValues(func() (image.Image, error) {
		return embedding.DecodeImage(data)
	})

	ctx, cancel := context.WithTimeout(ctx, r.timeout(req.Timeout))
	defer cancel()

	results, err := r.fanOut(ctx, spaces, func(ctx context.Context, sp *registry.Space) (Result, error) {
		return r.embedOne(ctx, sp, embedding.Image, string(embedding.Image), data, func(ctx context.Context) ([]float32, error) {
			img, err := decode()
			if err != nil {
				return nil, err
			}
			return sp.Backend.EmbedImage(ctx, img)
		})
	})
	if err != nil {
		return Response{}, err
	}
	return assemble(results, multi), nil
}

// selectSpaces resolves the requested spaces. multi reports whether the
// response must be keyed by space id.
func (r *Router) selectSpaces(space string, list []string, mod embedding.Modality) (spaces []*registry.Space, multi bool, err error) {
	if space != "" && len(list) > 0 {
		return nil, false, embederr.BadRequest("space and spaces are mutually exclusive")
	}

	switch {
	case len(list) > 0:
		seen := make(map[string]bool, len(list))
		for _, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			sp, err := r.resolveFor(id, mod)
			if err != nil {
				return nil, false, err
			}
			spaces = append(spaces, sp)
		}
		return spaces, true, nil

	case space == AllSpaces:
		spaces = r.registry.Supporting(mod)
		if len(spaces) == 0 {
			return nil, false, embederr.UnsupportedModality(AllSpaces, string(mod))
		}
		return spaces, true, nil

	case space == "":
		if r.defaultSpace != "" {
			if sp, err := r.registry.Resolve(r.defaultSpace); err == nil && sp.Supports(mod) {
				return []*registry.Space{sp}, false, nil
			}
		}
		supporting := r.registry.Supporting(mod)
		if len(supporting) == 0 {
			return nil, false, embederr.UnsupportedModality("default", string(mod))
		}
		return supporting[:1], false, nil

	default:
		sp, err := r.resolveFor(space, mod)
		if err != nil {
			return nil, false, err
		}
		return []*registry.Space{sp}, false, nil
	}
}

func (r *Router) resolveFor(id string, mod embedding.Modality) (*registry.Space, error) {
	sp, err := r.registry.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !sp.Supports(mod) {
		return nil, embederr.UnsupportedModality(id, string(mod))
	}
	return sp, nil
}

// fanOut runs fn for every space concurrently. Results keep the order of
// spaces. The first failure cancels the others and no partial output is
// returned.
func (r *Router) fanOut(ctx context.Context, spaces []*registry.Space, fn func(context.Context, *registry.Space) (Result, error)) ([]Result, error) {
	if len(spaces) == 1 {
		res, err := fn(ctx, spaces[0])
		if err != nil {
			return nil, err
		}
		return []Result{res}, nil
	}

	results := make([]Result, len(spaces))
	g, gctx := errgroup.WithContext(ctx)
	for i, sp := range spaces {
		g.Go(func() error {
			res, err := fn(gctx, sp)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// embedOne produces the normalized vector of one space.
func (r *Router) embedOne(ctx context.Context, sp *registry.Space, mod embedding.Modality, modKey string, input []byte, encode func(context.Context) ([]float32, error)) (Result, error) {
	var key cache.Key
	if r.cache != nil {
		key = cache.NewKey(sp.ID, sp.Backend.Fingerprint(), modKey, input)
		vec, ok := r.cache.Get(ctx, key)
		if ok && len(vec) == sp.Dims && vector.IsUnit(vec) {
			r.metrics.ObserveCache(sp.ID, true)
			return Result{Space: sp.ID, Vector: vec, Dimensions: sp.Dims}, nil
		}
		if ok {
			r.logger.Warn("discarding invalid cached vector", zap.String("space", sp.ID), zap.Int("dims", len(vec)))
		}
		r.metrics.ObserveCache(sp.ID, false)
	}

	start := time.Now()
	raw, err := encode(ctx)
	r.metrics.ObserveEncode(sp.ID, string(mod), time.Since(start))
	if err != nil {
		return Result{}, r.classify(ctx, err, sp, mod, len(input))
	}

	vec, err := vector.Normalize(raw)
	if err == nil {
		err = vector.CheckDims(vec, sp.Dims)
	}
	if err != nil {
		r.logger.Warn("backend produced a degenerate vector",
			zap.String("space", sp.ID),
			zap.String("modality", string(mod)),
			zap.Int("input_bytes", len(input)),
			zap.Error(err),
		)
		return Result{}, err
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, vec)
	}
	return Result{Space: sp.ID, Vector: vec, Dimensions: sp.Dims}, nil
}

// classify keeps gateway errors as they are and turns everything else into
// an internal error. The payload itself is never logged.
func (r *Router) classify(ctx context.Context, err error, sp *registry.Space, mod embedding.Modality, size int) error {
	var gwErr *embederr.Error
	if errors.As(err, &gwErr) {
		return err
	}
	if ctx.Err() != nil {
		return embederr.Timeout(ctx.Err())
	}
	r.logger.Error("backend failure",
		zap.String("space", sp.ID),
		zap.String("backend", sp.Backend.Model().ID()),
		zap.String("modality", string(mod)),
		zap.Int("input_bytes", size),
		zap.Error(err),
	)
	return embederr.Internal(err)
}

func (r *Router) timeout(requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	return r.defaultTimeout
}

func (r *Router) observe(mod embedding.Modality, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(embederr.KindOf(err))
	}
	r.metrics.ObserveRequest(string(mod), outcome, time.Since(start))
}

func assemble(results []Result, multi bool) Response {
	if !multi {
		return Response{Single: &results[0]}
	}
	return Response{Multi: results}
}
