package main

import (
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/config"
	"github.com/nidhogg/embedgate/internal/embedding"
	"github.com/nidhogg/embedgate/internal/embederr"
	"github.com/nidhogg/embedgate/internal/manifest"
	"github.com/nidhogg/embedgate/internal/registry"
)

// buildRegistry loads every configured backend once and registers the
// spaces on top of them.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*registry.Registry, error) {
	models := make(map[string]*embedding.Model, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		m, err := embedding.NewModel(embedding.Config{
			ID:          bc.ID,
			Type:        bc.Type,
			Endpoint:    bc.Endpoint,
			Model:       bc.Model,
			APIKey:      bc.APIKey,
			Dims:        bc.Dims,
			Concurrency: bc.Concurrency,
			TimeoutMS:   bc.TimeoutMS,
		}, logger)
		if err != nil {
			return nil, err
		}
		models[bc.ID] = m
	}

	reg := registry.New(logger)
	for _, sc := range cfg.Spaces {
		model, ok := models[sc.BackendRef]
		if !ok {
			return nil, embederr.Configuration("space %q: unknown backend_ref %q", sc.ID, sc.BackendRef)
		}

		mods := make([]embedding.Modality, 0, len(sc.Modalities))
		for _, s := range sc.Modalities {
			m, ok := embedding.ParseModality(s)
			if !ok {
				return nil, embederr.Configuration("space %q: unknown modality %q", sc.ID, s)
			}
			mods = append(mods, m)
		}

		var backend embedding.Backend
		switch sc.AdapterKind() {
		case config.AdapterCrossModal:
			backend = embedding.NewCrossModalAdapter(sc.ID, model, mods, sc.QueryPrefix, sc.QueryMaxWords)
		case config.AdapterTextOnly:
			backend = embedding.NewTextOnlyAdapter(sc.ID, model)
		default:
			return nil, embederr.Configuration("space %q: unknown adapter %q", sc.ID, sc.Adapter)
		}

		if err := reg.Register(&registry.Space{ID: sc.ID, Dims: sc.Dims, Modalities: mods, Backend: backend}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// manifestEntries describes the registered spaces for the manifest.
func manifestEntries(reg *registry.Registry) []manifest.Entry {
	spaces := reg.AllSpaces()
	out := make([]manifest.Entry, len(spaces))
	for i, s := range spaces {
		mods := make([]string, len(s.Modalities))
		for j, m := range s.Modalities {
			mods[j] = string(m)
		}
		out[i] = manifest.Entry{
			SpaceID:     s.ID,
			Fingerprint: s.Backend.Fingerprint(),
			Dims:        s.Dims,
			Modalities:  mods,
		}
	}
	return out
}

// newLogger returns a development logger, or a production logger at the
// given level when one is configured.
func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

const shutdownTimeout = 30 * time.Second
