package permit

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/permit/logger"
)

// Option configures a Resolver at construction time.
type Option func(*Resolver) error

// WithCache installs an externally owned decision cache. The resolver will
// not close it.
func WithCache(c *DecisionCache) Option {
	return func(r *Resolver) error {
		if c == nil {
			return fmt.Errorf("permit: nil cache")
		}
		r.cache = c
		r.ownsCache = false
		return nil
	}
}

// WithCacheTTL sets the default TTL for cached verdicts. Only used when the
// resolver constructs its own cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) error {
		r.cacheTTL = ttl
		return nil
	}
}

// WithSweepInterval sets the expired-entry sweep interval of the internally
// constructed cache.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Resolver) error {
		r.sweepInterval = d
		return nil
	}
}

// WithMaxDepth bounds hierarchy traversal.
func WithMaxDepth(depth int) Option {
	return func(r *Resolver) error {
		r.maxDepth = depth
		return nil
	}
}

// WithAuditSink installs an audit sink fed asynchronously through a buffer
// of the given size (<= 0 selects the default).
func WithAuditSink(sink AuditSink, buffer int) Option {
	return func(r *Resolver) error {
		r.auditSink = sink
		r.auditBuffer = buffer
		return nil
	}
}

// WithLogger installs a structured logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) error {
		if l == nil {
			return fmt.Errorf("permit: nil logger")
		}
		r.log = l
		return nil
	}
}

// WithClock overrides the time source, mainly for window and delegation
// tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) error {
		r.clock = clock
		return nil
	}
}

// Resolver decides whether a principal may perform an action on a resource.
// It orchestrates the decision cache, the hierarchy walker, the wildcard
// matcher and the store client into one fixed-precedence pipeline. Safe for
// concurrent use; each resolution is an independent sequential pass.
type Resolver struct {
	store  StoreClient
	cache  *DecisionCache
	walker *Walker
	audit  *auditRecorder
	log    logger.Logger
	clock  func() time.Time

	ownsCache     bool
	cacheTTL      time.Duration
	sweepInterval time.Duration
	maxDepth      int
	auditSink     AuditSink
	auditBuffer   int
}

// New builds a Resolver over the given store. Without options it uses an
// internal decision cache with default TTL, no audit sink and a null logger.
func New(store StoreClient, opts ...Option) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("permit: nil store")
	}
	r := &Resolver{
		store:     store,
		log:       logger.Null(),
		clock:     time.Now,
		ownsCache: true,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.cache == nil {
		r.cache = NewDecisionCache(r.cacheTTL, r.sweepInterval)
	}
	r.walker = NewWalker(store, r.maxDepth)
	if r.auditSink != nil {
		r.audit = newAuditRecorder(r.auditSink, r.auditBuffer, r.log)
	}
	return r, nil
}

// Cache exposes the decision cache for invalidation wiring.
func (r *Resolver) Cache() *DecisionCache { return r.cache }

// Close stops the internally owned cache sweeper and drains the audit
// buffer.
func (r *Resolver) Close() {
	if r.ownsCache {
		r.cache.Close()
	}
	if r.audit != nil {
		r.audit.close()
	}
}

// Resolve answers the authorization question. A false verdict means "not
// authorized"; an error means the question could not be answered (store
// failure or cancellation) and carries no verdict.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (bool, error) {
	granted, _, err := r.resolve(ctx, req, nil)
	return granted, err
}

// Explain runs the same pipeline with tracing on and returns the decision
// with the evaluation path. It bypasses the decision cache in both
// directions so the trace is always complete.
func (r *Resolver) Explain(ctx context.Context, req ResolveRequest) (*Decision, error) {
	trace := make([]string, 0, 8)
	granted, path, err := r.resolve(ctx, req, &trace)
	if err != nil {
		return nil, err
	}
	return &Decision{Granted: granted, Path: path, Trace: trace, At: r.clock()}, nil
}

// BatchResolve evaluates requests in order, stopping at the first error.
func (r *Resolver) BatchResolve(ctx context.Context, reqs []ResolveRequest) ([]bool, error) {
	out := make([]bool, len(reqs))
	for i, req := range reqs {
		granted, err := r.Resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		out[i] = granted
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, req ResolveRequest, trace *[]string) (bool, string, error) {
	if req.Principal == "" || req.Action == "" || req.ResourceType == "" {
		return false, "", fmt.Errorf("%w: principal, action and resource type are required", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return false, "", err
	}

	// 1. SuperAdmin bypasses everything, including tenant resolution and
	// the cache; the verdict is never cached.
	sa, err := r.store.IsSuperAdmin(ctx, req.Principal)
	if err != nil {
		return false, "", wrapStore("is_superadmin", err)
	}
	if sa {
		r.tracef(trace, "superadmin: global assignment grants all")
		r.recordAudit(req, req.Tenant, true, PathSuperAdmin)
		return true, PathSuperAdmin, nil
	}

	// 2. Tenant resolution. No default tenant is not an error: evaluation
	// proceeds global-only.
	tenant := req.Tenant
	if tenant == "" {
		tenant, err = r.store.ResolveDefaultTenant(ctx, req.Principal)
		if err != nil {
			return false, "", wrapStore("resolve_default_tenant", err)
		}
		if tenant == "" {
			r.tracef(trace, "tenant: none, evaluating global assignments only")
		} else {
			r.tracef(trace, "tenant: defaulted to %s", tenant)
		}
	}

	// 3. Cache lookup. Explain skips it so traces stay complete.
	key := NewCacheKey(req.Principal, tenant, req.ResourceType, req.Action, req.ResourceID)
	if trace == nil {
		if granted, ok := r.cache.Get(key); ok {
			r.recordAudit(req, tenant, granted, PathCache)
			return granted, PathCache, nil
		}
	}

	now := r.clock()

	// 4. Role-based union check.
	union, err := r.store.UnionPermissions(ctx, req.Principal, tenant)
	if err != nil {
		return false, "", wrapStore("union_permissions", err)
	}
	grants := CompileGrants(union)
	r.tracef(trace, "role union: %d grants", len(grants))
	if matchExact(grants, req.ResourceType, req.Action, now) {
		r.tracef(trace, "role union grants %s:%s", req.ResourceType, req.Action)
		return r.finish(ctx, req, tenant, key, true, PathRole, trace)
	}

	// 5. Resource-specific check.
	if req.ResourceID != "" {
		ok, err := r.store.HasResourceGrant(ctx, req.Principal, tenant, req.ResourceType, req.Action, req.ResourceID, now)
		if err != nil {
			return false, "", wrapStore("resource_grant", err)
		}
		if ok {
			r.tracef(trace, "resource grant on %s:%s", req.ResourceType, req.ResourceID)
			return r.finish(ctx, req, tenant, key, true, PathResource, trace)
		}
	}

	// 6. Hierarchical check: an ancestor granting either specifically or at
	// its own type level grants the descendant.
	if req.ResourceID != "" {
		inherits, err := r.store.SupportsHierarchy(ctx, req.ResourceType)
		if err != nil {
			return false, "", wrapStore("supports_hierarchy", err)
		}
		if inherits {
			granted, err := r.walker.Walk(ctx, req.ResourceType, req.ResourceID, func(ctx context.Context, anc ResourceRef) (bool, error) {
				if matchExact(grants, anc.Type, req.Action, now) {
					r.tracef(trace, "ancestor %s grants via role union", anc)
					return true, nil
				}
				ok, err := r.store.HasResourceGrant(ctx, req.Principal, tenant, anc.Type, req.Action, anc.ID, now)
				if err != nil {
					return false, wrapStore("resource_grant", err)
				}
				if ok {
					r.tracef(trace, "ancestor %s grants via resource grant", anc)
				}
				return ok, nil
			})
			if err != nil {
				return false, "", err
			}
			if granted {
				return r.finish(ctx, req, tenant, key, true, PathHierarchy, trace)
			}
		}
	}

	// 7. Owner check.
	if req.ResourceID != "" {
		supports, err := r.store.SupportsOwnership(ctx, req.ResourceType)
		if err != nil {
			return false, "", wrapStore("supports_ownership", err)
		}
		if supports {
			isOwner, err := r.store.IsOwner(ctx, req.Principal, req.ResourceType, req.ResourceID)
			if err != nil {
				return false, "", wrapStore("is_owner", err)
			}
			if isOwner {
				actions, err := r.store.OwnerActions(ctx, req.ResourceType)
				if err != nil {
					return false, "", wrapStore("owner_actions", err)
				}
				for _, a := range actions {
					if a == req.Action || a == Wildcard {
						r.tracef(trace, "owner of %s:%s with owner action %s", req.ResourceType, req.ResourceID, a)
						return r.finish(ctx, req, tenant, key, true, PathOwner, trace)
					}
				}
				r.tracef(trace, "owner of %s:%s but %s is not an owner action", req.ResourceType, req.ResourceID, req.Action)
			}
		}
	}

	// 8. Wildcard check over the flattened union.
	if matchWildcard(grants, req.ResourceType, req.Action, now) {
		r.tracef(trace, "wildcard grant matches %s:%s", req.ResourceType, req.Action)
		return r.finish(ctx, req, tenant, key, true, PathWildcard, trace)
	}

	// 9. Delegation check. A delegated grant only counts while the
	// delegation is active and the delegator could perform the action
	// themselves right now.
	dels, err := r.store.ActiveDelegations(ctx, req.Principal, now)
	if err != nil {
		return false, "", wrapStore("active_delegations", err)
	}
	for _, d := range dels {
		if !d.Active(now) {
			continue
		}
		if !matchWildcard(CompileGrants(d.Grants), req.ResourceType, req.Action, now) {
			continue
		}
		delegatorUnion, err := r.store.UnionPermissions(ctx, d.Delegator, tenant)
		if err != nil {
			return false, "", wrapStore("union_permissions", err)
		}
		if matchWildcard(CompileGrants(delegatorUnion), req.ResourceType, req.Action, now) {
			r.tracef(trace, "delegation %s from %s grants %s:%s", d.ID, d.Delegator, req.ResourceType, req.Action)
			r.log.Info("delegation used", "delegation", d.ID, "delegator", d.Delegator, "delegate", req.Principal)
			return r.finish(ctx, req, tenant, key, true, PathDelegation, trace)
		}
		r.tracef(trace, "delegation %s matched but delegator %s lacks the permission", d.ID, d.Delegator)
	}

	r.tracef(trace, "no step granted, default deny")
	return r.finish(ctx, req, tenant, key, false, PathDeny, trace)
}

// finish writes the verdict to the cache (except for explain runs and
// cancelled contexts), emits the audit record and returns.
func (r *Resolver) finish(ctx context.Context, req ResolveRequest, tenant string, key CacheKey, granted bool, path string, trace *[]string) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	if trace == nil {
		r.cache.Set(key, granted, 0)
	}
	r.recordAudit(req, tenant, granted, path)
	r.log.Debug("resolved",
		"principal", req.Principal,
		"action", req.Action,
		"resource", req.ResourceType,
		"resource_id", req.ResourceID,
		"tenant", tenant,
		"granted", granted,
		"path", path,
	)
	return granted, path, nil
}

func (r *Resolver) recordAudit(req ResolveRequest, tenant string, granted bool, path string) {
	if r.audit == nil {
		return
	}
	r.audit.record(AuditEvent{
		Principal:    req.Principal,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Tenant:       tenant,
		Granted:      granted,
		Path:         path,
		At:           r.clock(),
	})
}

func (r *Resolver) tracef(trace *[]string, format string, args ...any) {
	if trace == nil {
		return
	}
	*trace = append(*trace, fmt.Sprintf(format, args...))
}
