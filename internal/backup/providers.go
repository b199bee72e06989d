package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yourusername/network-backup-manager/internal/provider"
	"github.com/yourusername/network-backup-manager/internal/store"
)

// LocalProviderID names the built-in local provider rooted at the backup
// directory.
const LocalProviderID = "local"

// Providers resolves provider IDs to live back ends. Configured providers
// are rebuilt whenever their stored config changes.
type Providers struct {
	store     *store.Store
	opts      provider.Options
	defaultID string

	mu     sync.Mutex
	static map[string]provider.Provider
	cache  map[string]cachedProvider
}

type cachedProvider struct {
	config  []byte
	backend provider.Provider
}

// NewProviders creates a resolver. local backs LocalProviderID; defaultID is
// used when a caller passes an empty ID and falls back to local.
func NewProviders(st *store.Store, opts provider.Options, defaultID string, local provider.Provider) *Providers {
	if defaultID == "" {
		defaultID = LocalProviderID
	}
	r := &Providers{
		store:     st,
		opts:      opts,
		defaultID: defaultID,
		static:    make(map[string]provider.Provider),
		cache:     make(map[string]cachedProvider),
	}
	if local != nil {
		r.static[LocalProviderID] = local
	}
	return r
}

// Register pins a back end to id ahead of stored providers.
func (r *Providers) Register(id string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static[id] = p
}

// DefaultID returns the ID used for an empty provider reference.
func (r *Providers) DefaultID() string {
	return r.defaultID
}

// Get returns the back end for id and the resolved ID.
func (r *Providers) Get(ctx context.Context, id string) (provider.Provider, string, error) {
	if id == "" {
		id = r.defaultID
	}

	r.mu.Lock()
	if p, ok := r.static[id]; ok {
		r.mu.Unlock()
		return p, id, nil
	}
	r.mu.Unlock()

	if r.store == nil {
		return nil, id, fmt.Errorf("provider %s: %w", id, ErrNotFound)
	}
	rec, err := r.store.GetProvider(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, id, fmt.Errorf("provider %s: %w", id, ErrNotFound)
		}
		return nil, id, err
	}
	if !rec.IsActive {
		return nil, id, fmt.Errorf("provider %s is disabled", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[id]; ok && bytes.Equal(cached.config, rec.Config) {
		return cached.backend, id, nil
	}

	backend, err := provider.New(ctx, rec, r.opts)
	if err != nil {
		return nil, id, fmt.Errorf("failed to initialize provider %s: %w", id, err)
	}
	r.cache[id] = cachedProvider{config: append([]byte(nil), rec.Config...), backend: backend}
	return backend, id, nil
}

// Forget drops a cached back end after its provider is deleted.
func (r *Providers) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, id)
}
