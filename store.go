package permit

import (
	"context"
	"time"
)

// StoreClient is the narrow read interface the resolver consumes. It is
// implemented by the storage layer (see the stores package); the engine adds
// no caching here beyond what a CachedStore decorator provides.
//
// Absence is a result, not an error: an unknown principal, tenant or
// resource type yields empty/false results. Errors are reserved for the
// store itself being unable to answer.
type StoreClient interface {
	// IsSuperAdmin reports whether the principal holds the SuperAdmin role
	// through a global assignment.
	IsSuperAdmin(ctx context.Context, principal string) (bool, error)

	// ResolveDefaultTenant returns the principal's default tenant, or ""
	// when the principal has none.
	ResolveDefaultTenant(ctx context.Context, principal string) (string, error)

	// UnionPermissions returns the union of grants reachable through the
	// principal's global assignments plus, when tenant is non-empty, its
	// assignments in that tenant.
	UnionPermissions(ctx context.Context, principal, tenant string) ([]PermissionGrant, error)

	// HasResourceGrant reports whether any applicable role holds a
	// resource-specific grant for (resourceType, action, resourceID) whose
	// window covers now.
	HasResourceGrant(ctx context.Context, principal, tenant, resourceType, action, resourceID string, now time.Time) (bool, error)

	// ParentResource returns the single parent edge of an instance.
	ParentResource(ctx context.Context, resourceType, resourceID string) (ResourceRef, bool, error)

	// SupportsHierarchy reports whether the resource type inherits
	// permissions from ancestors.
	SupportsHierarchy(ctx context.Context, resourceType string) (bool, error)

	// IsOwner reports whether the principal owns the instance.
	IsOwner(ctx context.Context, principal, resourceType, resourceID string) (bool, error)

	// SupportsOwnership reports whether the resource type has owners.
	SupportsOwnership(ctx context.Context, resourceType string) (bool, error)

	// OwnerActions returns the actions implicitly permitted to an
	// instance's owner for the resource type.
	OwnerActions(ctx context.Context, resourceType string) ([]string, error)

	// ActiveDelegations returns the delegations naming the principal as
	// delegate whose validity window covers now.
	ActiveDelegations(ctx context.Context, principal string, now time.Time) ([]Delegation, error)
}
