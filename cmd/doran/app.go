package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"doran/internal/config"
	"doran/internal/corpus"
	"doran/internal/domain"
	"doran/internal/embedding"
	"doran/internal/embedding/tfidf"
	"doran/internal/engine"
	"doran/internal/media"
	"doran/internal/metrics"
	"doran/internal/session"
	"doran/internal/store"
	"doran/internal/textnorm"
)

// app holds the assembled components of one process.
type app struct {
	store   store.Store
	history domain.HistoryStore
	engine  *engine.Engine
	metrics *metrics.Metrics
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// buildApp assembles the store, history, corpus index and engine from cfg,
// seeding an empty store when a seed file is configured.
func buildApp(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}
	renderer := media.NewRenderer(cfg.Media.StaticPrefix)

	st, err := store.Open(ctx, store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store opened")

	if cfg.Store.Seed != "" {
		if err := seedIfEmpty(ctx, st, cfg.Store.Seed, renderer, logger); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	opts := session.Options{Limit: cfg.Session.MaxHistory, TTL: cfg.Session.TTL}
	switch cfg.Session.Type {
	case "redis":
		rc := cfg.Session.Redis
		rs, err := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		}, opts)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.history = rs
		a.closers = append(a.closers, rs.Close)
	default:
		a.history = session.NewMemoryStore(opts)
	}

	thresholds, err := cfg.Thresholds()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	norm := textnorm.New(textnorm.DefaultCacheSize)
	tfidfOpts := tfidf.Options{NgramMax: cfg.TFIDF.NgramMax, MinDF: cfg.TFIDF.MinDF, MaxDF: cfg.TFIDF.MaxDF}
	index := corpus.NewIndex(func() embedding.Embedder { return tfidf.NewEmbedder(tfidfOpts) }, norm, logger)

	eopts := engine.DefaultOptions()
	eopts.Thresholds = thresholds
	eopts.IntentBoost = cfg.Engine.IntentBoost
	eopts.OverlapBoost = cfg.Engine.OverlapBoost
	eopts.FuzzyThreshold = cfg.Engine.FuzzyThreshold
	eopts.ContextWindow = cfg.Engine.ContextWindow
	eopts.ContextMin = cfg.Engine.ContextMin
	eopts.ContextDecay = cfg.Engine.ContextDecay
	eopts.FallbackMessages = cfg.Engine.FallbackMessages
	eopts.EmptyPrompt = cfg.Engine.EmptyPrompt

	eng, err := engine.New(engine.Deps{
		Rules:      st,
		Emails:     st,
		History:    a.history,
		Index:      index,
		Normalizer: norm,
		Renderer:   renderer,
		Metrics:    a.metrics,
		Logger:     logger,
	}, eopts)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	eng.Rebuild(ctx)
	a.engine = eng
	return a, nil
}

func seedIfEmpty(ctx context.Context, st store.Store, path string, renderer *media.Renderer, logger zerolog.Logger) error {
	empty, err := store.IsEmpty(ctx, st)
	if err != nil {
		return fmt.Errorf("inspect store: %w", err)
	}
	if !empty {
		return nil
	}
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	n, err := seed.Apply(ctx, st, renderer)
	if err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	logger.Info().Str("seed", path).Int("rules", n).Int("emails", len(seed.Emails)).Msg("store seeded")
	return nil
}
