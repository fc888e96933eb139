package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/systmms/kvref/internal/cachestores"
	"github.com/systmms/kvref/internal/config"
	"github.com/systmms/kvref/internal/credentials"
	"github.com/systmms/kvref/pkg/cachestore"
	"github.com/systmms/kvref/pkg/keyvault"
)

// newService builds the vault service for a loaded configuration. The
// returned cleanup function releases the cache store and cached tokens.
// Tests replace it to inject a fake vault.
var newService = buildService

func buildService(cfg *config.Config) (*keyvault.Service, func(), error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	registry := credentials.NewRegistry(cfg)
	def := cfg.Definition
	svc := keyvault.NewService(registry,
		keyvault.WithCache(store),
		keyvault.WithCacheTTL(def.CacheTTL()),
		keyvault.WithCachePrefix(def.CachePrefix()),
		keyvault.WithLogger(cfg.Logger),
	)

	cleanup := func() {
		registry.Close()
		if store != nil {
			_ = store.Close()
		}
	}
	return svc, cleanup, nil
}

// openStore creates the external cache tier: the configured store, an
// in-memory store when none is named, or nothing when caching is disabled.
func openStore(cfg *config.Config) (cachestore.Store, error) {
	def := cfg.Definition
	if !def.CacheEnabled() {
		cfg.Logger.Debug("external cache disabled")
		return nil, nil
	}
	if def.Cache.Store == "" {
		return cachestores.NewMemoryStore(0), nil
	}

	storeCfg, err := cfg.GetStore(def.Cache.Store)
	if err != nil {
		return nil, err
	}
	store, err := cachestores.NewRegistry().CreateStore(def.Cache.Store, storeCfg)
	if err != nil {
		return nil, err
	}

	if schema, ok := store.(interface{ EnsureSchema(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(context.Background(), storeCfg.GetStoreTimeout())
		defer cancel()
		if err := schema.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("prepare cache store %s: %w", def.Cache.Store, err)
		}
	}
	return store, nil
}

func callOptions(cfg *config.Config) []keyvault.CallOption {
	if cfg.Credential == "" {
		return nil
	}
	return []keyvault.CallOption{keyvault.WithCredential(cfg.Credential)}
}

// printValue writes strings verbatim and anything else as indented JSON.
func printValue(w io.Writer, v any) error {
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
