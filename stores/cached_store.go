package stores

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/permit"
)

const (
	// DefaultStoreCacheTTL bounds staleness of cached principal metadata.
	DefaultStoreCacheTTL = 30 * time.Second

	DefaultRistrettoNumCounters = 1 << 16
	DefaultRistrettoMaxCost     = 1 << 24
	DefaultRistrettoBuffer      = 64
)

// CachedStoreConfig tunes the decorator. Zero values select defaults.
type CachedStoreConfig struct {
	TTL         time.Duration
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// CachedStore is a read-through decorator over a StoreClient. It caches the
// hot per-principal lookups (superadmin flag, default tenant, permission
// union) and the near-static resource type metadata in a ristretto cache,
// so repeated resolutions for the same principal touch the backend at most
// once per TTL.
//
// Instance-level lookups (resource grants, parent edges, ownership,
// delegations) always pass through; their key space is unbounded and their
// answers feed the decision cache anyway.
//
// CachedStore implements permit.Invalidator. A key registry tracks which
// cache keys belong to which principal and tenant so invalidation can evict
// exact keys; ristretto itself cannot enumerate its contents.
type CachedStore struct {
	backend permit.StoreClient
	cache   *ristretto.Cache
	ttl     time.Duration

	mu          sync.Mutex
	byPrincipal map[string]map[string]struct{}
	byTenant    map[string]map[string]struct{}
}

// NewCachedStore wraps backend. The only error source is ristretto setup.
func NewCachedStore(backend permit.StoreClient, cfg CachedStoreConfig) (*CachedStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultStoreCacheTTL
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = DefaultRistrettoNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = DefaultRistrettoMaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = DefaultRistrettoBuffer
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{
		backend:     backend,
		cache:       cache,
		ttl:         cfg.TTL,
		byPrincipal: make(map[string]map[string]struct{}),
		byTenant:    make(map[string]map[string]struct{}),
	}, nil
}

// Wait flushes ristretto's set buffers. Mostly useful in tests, where a
// value must be observable immediately after the set.
func (s *CachedStore) Wait() { s.cache.Wait() }

// Close releases the underlying cache.
func (s *CachedStore) Close() { s.cache.Close() }

func (s *CachedStore) set(key string, value any, principal, tenant string) {
	s.cache.SetWithTTL(key, value, 1, s.ttl)
	if principal == "" && tenant == "" {
		return
	}
	s.mu.Lock()
	if principal != "" {
		set := s.byPrincipal[principal]
		if set == nil {
			set = make(map[string]struct{})
			s.byPrincipal[principal] = set
		}
		set[key] = struct{}{}
	}
	if tenant != "" {
		set := s.byTenant[tenant]
		if set == nil {
			set = make(map[string]struct{})
			s.byTenant[tenant] = set
		}
		set[key] = struct{}{}
	}
	s.mu.Unlock()
}

// InvalidateByPrincipal evicts every cached entry registered for the
// principal.
func (s *CachedStore) InvalidateByPrincipal(principal string) {
	s.mu.Lock()
	keys := s.byPrincipal[principal]
	delete(s.byPrincipal, principal)
	s.mu.Unlock()
	for key := range keys {
		s.cache.Del(key)
	}
}

// InvalidateByTenant evicts every cached entry registered for the tenant.
func (s *CachedStore) InvalidateByTenant(tenant string) {
	s.mu.Lock()
	keys := s.byTenant[tenant]
	delete(s.byTenant, tenant)
	s.mu.Unlock()
	for key := range keys {
		s.cache.Del(key)
	}
}

// Clear drops everything, including type metadata.
func (s *CachedStore) Clear() {
	s.cache.Clear()
	s.mu.Lock()
	s.byPrincipal = make(map[string]map[string]struct{})
	s.byTenant = make(map[string]map[string]struct{})
	s.mu.Unlock()
}

func (s *CachedStore) IsSuperAdmin(ctx context.Context, principal string) (bool, error) {
	key := "sa|" + principal
	if v, ok := s.cache.Get(key); ok {
		return v.(bool), nil
	}
	v, err := s.backend.IsSuperAdmin(ctx, principal)
	if err != nil {
		return false, err
	}
	s.set(key, v, principal, "")
	return v, nil
}

func (s *CachedStore) ResolveDefaultTenant(ctx context.Context, principal string) (string, error) {
	key := "dt|" + principal
	if v, ok := s.cache.Get(key); ok {
		return v.(string), nil
	}
	v, err := s.backend.ResolveDefaultTenant(ctx, principal)
	if err != nil {
		return "", err
	}
	s.set(key, v, principal, "")
	return v, nil
}

func (s *CachedStore) UnionPermissions(ctx context.Context, principal, tenant string) ([]permit.PermissionGrant, error) {
	key := "up|" + principal + "|" + tenant
	if v, ok := s.cache.Get(key); ok {
		return v.([]permit.PermissionGrant), nil
	}
	v, err := s.backend.UnionPermissions(ctx, principal, tenant)
	if err != nil {
		return nil, err
	}
	s.set(key, v, principal, tenant)
	return v, nil
}

func (s *CachedStore) HasResourceGrant(ctx context.Context, principal, tenant, resourceType, action, resourceID string, now time.Time) (bool, error) {
	return s.backend.HasResourceGrant(ctx, principal, tenant, resourceType, action, resourceID, now)
}

func (s *CachedStore) ParentResource(ctx context.Context, resourceType, resourceID string) (permit.ResourceRef, bool, error) {
	return s.backend.ParentResource(ctx, resourceType, resourceID)
}

func (s *CachedStore) SupportsHierarchy(ctx context.Context, resourceType string) (bool, error) {
	key := "sh|" + resourceType
	if v, ok := s.cache.Get(key); ok {
		return v.(bool), nil
	}
	v, err := s.backend.SupportsHierarchy(ctx, resourceType)
	if err != nil {
		return false, err
	}
	s.set(key, v, "", "")
	return v, nil
}

func (s *CachedStore) IsOwner(ctx context.Context, principal, resourceType, resourceID string) (bool, error) {
	return s.backend.IsOwner(ctx, principal, resourceType, resourceID)
}

func (s *CachedStore) SupportsOwnership(ctx context.Context, resourceType string) (bool, error) {
	key := "so|" + resourceType
	if v, ok := s.cache.Get(key); ok {
		return v.(bool), nil
	}
	v, err := s.backend.SupportsOwnership(ctx, resourceType)
	if err != nil {
		return false, err
	}
	s.set(key, v, "", "")
	return v, nil
}

func (s *CachedStore) OwnerActions(ctx context.Context, resourceType string) ([]string, error) {
	key := "oa|" + resourceType
	if v, ok := s.cache.Get(key); ok {
		return v.([]string), nil
	}
	v, err := s.backend.OwnerActions(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	s.set(key, v, "", "")
	return v, nil
}

func (s *CachedStore) ActiveDelegations(ctx context.Context, principal string, now time.Time) ([]permit.Delegation, error) {
	return s.backend.ActiveDelegations(ctx, principal, now)
}
