package cachestores

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/systmms/kvref/internal/config"
	"github.com/systmms/kvref/pkg/cachestore"
)

// Registry manages cache store creation and registration
type Registry struct {
	factories map[string]StoreFactory
}

// StoreFactory creates a cache store instance from configuration
type StoreFactory func(name string, config map[string]interface{}) (cachestore.Store, error)

// NewRegistry creates a new cache store registry with built-in stores
func NewRegistry() *Registry {
	registry := &Registry{
		factories: make(map[string]StoreFactory),
	}

	// Register built-in stores
	registry.RegisterFactory("memory", NewMemoryStoreFactory)
	registry.RegisterFactory("redis", NewRedisStoreFactory)
	for _, dbType := range []string{"postgres", "postgresql", "mysql", "mariadb"} {
		registry.RegisterFactory(dbType, sqlStoreFactory(dbType))
	}

	return registry
}

// RegisterFactory registers a store factory for a given type
func (r *Registry) RegisterFactory(storeType string, factory StoreFactory) {
	r.factories[storeType] = factory
}

// CreateStore creates a cache store instance from configuration
func (r *Registry) CreateStore(name string, cfg config.StoreConfig) (cachestore.Store, error) {
	factory, exists := r.factories[cfg.Type]
	if !exists {
		return nil, fmt.Errorf("unknown cache store type: %s", cfg.Type)
	}

	store, err := factory(name, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("cache store %s: %w", name, err)
	}
	return store, nil
}

// GetSupportedTypes returns the supported store types in sorted order
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	slices.Sort(types)
	return types
}

// IsSupported checks if a store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, exists := r.factories[storeType]
	return exists
}

// Factory functions for built-in stores

// NewMemoryStoreFactory creates a go-cache backed store
func NewMemoryStoreFactory(name string, config map[string]interface{}) (cachestore.Store, error) {
	cleanup := DefaultCleanupInterval
	if raw, ok := config["cleanup_interval"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'cleanup_interval': %w", err)
		}
		cleanup = d
	}
	return NewMemoryStore(cleanup), nil
}

// NewRedisStoreFactory creates a redis store
func NewRedisStoreFactory(name string, config map[string]interface{}) (cachestore.Store, error) {
	var cfg RedisConfig

	if addr, ok := config["addr"].(string); ok {
		cfg.Addr = addr
	}
	if username, ok := config["username"].(string); ok {
		cfg.Username = username
	}
	if password, ok := config["password"].(string); ok {
		cfg.Password = password
	}
	db, err := intField(config, "db")
	if err != nil {
		return nil, err
	}
	cfg.DB = db

	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing required 'addr' field for redis store")
	}
	return NewRedisStore(cfg)
}

func sqlStoreFactory(dbType string) StoreFactory {
	return func(name string, config map[string]interface{}) (cachestore.Store, error) {
		cfg := SQLConfig{Type: dbType}
		if dsn, ok := config["dsn"].(string); ok {
			cfg.DSN = dsn
		}
		if table, ok := config["table"].(string); ok {
			cfg.Table = table
		}
		if cfg.DSN == "" {
			return nil, fmt.Errorf("missing required 'dsn' field for %s store", dbType)
		}
		return NewSQLStore(cfg)
	}
}

func intField(config map[string]interface{}, key string) (int, error) {
	switch v := config[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s': %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid '%s': unexpected type %T", key, v)
	}
}
