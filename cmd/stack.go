package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/greenshelf/strainscan/internal/cache"
	"github.com/greenshelf/strainscan/internal/catalog"
	"github.com/greenshelf/strainscan/internal/config"
	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/logging"
)

// stack is the wired enrichment pipeline with its persistence backends
type stack struct {
	service *enrichment.Service
	catalog *catalog.Store
	closers []func() error
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newStack opens the cache and catalog and builds the enrichment service.
// Redis is used when an address is configured, otherwise an in-process cache.
func newStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	s := &stack{}

	var c cache.Cache
	if cfg.Storage.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, cfg.CacheTTL())
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		s.closers = append(s.closers, rc.Close)
		c = rc
	} else {
		logger.Info("No Redis address configured, using in-memory cache")
		c = cache.NewMemory()
	}

	store, err := catalog.Open(cfg.Storage.CatalogPath)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.closers = append(s.closers, store.Close)
	s.catalog = store

	s.service = enrichment.New(provider, enrichment.Options{
		Model:        cfg.Model(),
		Temperature:  cfg.Provider.Temperature,
		StageTimeout: cfg.StageTimeout(),
		Cache:        c,
		Catalog:      store,
		Logger:       logging.NewComponentLogger(logger, "enrichment"),
	})
	logger.Debug("Pipeline ready", "provider", cfg.Provider.Name, "model", cfg.Model(), "catalog", cfg.Storage.CatalogPath)
	return s, nil
}
