package stores

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/permit"
)

// MutationNotifier receives change notifications from mutable stores so
// cached state can be evicted. *permit.Coordinator satisfies it.
type MutationNotifier interface {
	OnRoleAssignmentChanged(principal string)
	OnTenantPermissionsChanged(tenant string)
	OnPermissionDefinitionChanged()
}

// MemoryStore is a thread-safe in-memory backend. It implements both the
// resolver's read interface and the seed/admin write surface, and is the
// default backend for tests and single-process deployments.
type MemoryStore struct {
	mu sync.RWMutex

	types map[string]permit.ResourceType
	roles map[string]permit.Role

	// principal -> role IDs, global scope
	globalRoles map[string]map[string]struct{}
	// tenant -> principal -> role IDs
	tenantRoles map[string]map[string]map[string]struct{}

	defaultTenant  map[string]string
	resourceGrants map[string][]permit.ResourceGrant
	owners         map[permit.ResourceRef]string
	parents        map[permit.ResourceRef]permit.ResourceRef
	delegations    map[string]permit.Delegation

	notify MutationNotifier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		types:          make(map[string]permit.ResourceType),
		roles:          make(map[string]permit.Role),
		globalRoles:    make(map[string]map[string]struct{}),
		tenantRoles:    make(map[string]map[string]map[string]struct{}),
		defaultTenant:  make(map[string]string),
		resourceGrants: make(map[string][]permit.ResourceGrant),
		owners:         make(map[permit.ResourceRef]string),
		parents:        make(map[permit.ResourceRef]permit.ResourceRef),
		delegations:    make(map[string]permit.Delegation),
	}
}

// SetNotifier installs the invalidation hook. Pass nil to detach.
func (s *MemoryStore) SetNotifier(n MutationNotifier) {
	s.mu.Lock()
	s.notify = n
	s.mu.Unlock()
}

func (s *MemoryStore) notifier() MutationNotifier {
	s.mu.RLock()
	n := s.notify
	s.mu.RUnlock()
	return n
}

// roleIDs collects the principal's role IDs for the global scope plus the
// given tenant. Caller holds at least a read lock.
func (s *MemoryStore) roleIDs(principal, tenant string) map[string]struct{} {
	ids := make(map[string]struct{})
	for id := range s.globalRoles[principal] {
		ids[id] = struct{}{}
	}
	if tenant != "" {
		for id := range s.tenantRoles[tenant][principal] {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func (s *MemoryStore) IsSuperAdmin(ctx context.Context, principal string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.globalRoles[principal] {
		if role, ok := s.roles[id]; ok && role.Name == permit.SuperAdminRole {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ResolveDefaultTenant(ctx context.Context, principal string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultTenant[principal], nil
}

func (s *MemoryStore) UnionPermissions(ctx context.Context, principal, tenant string) ([]permit.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []permit.PermissionGrant
	seen := make(map[string]struct{})
	for id := range s.roleIDs(principal, tenant) {
		role, ok := s.roles[id]
		if !ok {
			continue
		}
		for _, g := range role.Grants {
			key := g.Key()
			if g.Window != nil {
				// windowed grants are kept distinct so each window is evaluated
				out = append(out, g)
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *MemoryStore) HasResourceGrant(ctx context.Context, principal, tenant, resourceType, action, resourceID string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.roleIDs(principal, tenant) {
		for _, g := range s.resourceGrants[id] {
			if g.Resource != resourceType || g.ResourceID != resourceID {
				continue
			}
			if g.Action != action && g.Action != permit.Wildcard {
				continue
			}
			if !g.Window.Contains(now) {
				continue
			}
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ParentResource(ctx context.Context, resourceType, resourceID string) (permit.ResourceRef, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.parents[permit.ResourceRef{Type: resourceType, ID: resourceID}]
	return parent, ok, nil
}

func (s *MemoryStore) SupportsHierarchy(ctx context.Context, resourceType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[resourceType].Hierarchy, nil
}

func (s *MemoryStore) IsOwner(ctx context.Context, principal, resourceType, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[permit.ResourceRef{Type: resourceType, ID: resourceID}]
	return ok && owner == principal, nil
}

func (s *MemoryStore) SupportsOwnership(ctx context.Context, resourceType string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[resourceType].Ownership, nil
}

func (s *MemoryStore) OwnerActions(ctx context.Context, resourceType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actions := s.types[resourceType].OwnerActions
	out := make([]string, len(actions))
	copy(out, actions)
	return out, nil
}

func (s *MemoryStore) ActiveDelegations(ctx context.Context, principal string, now time.Time) ([]permit.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []permit.Delegation
	for _, d := range s.delegations {
		if d.Delegate != principal {
			continue
		}
		if !d.Active(now) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// --- write surface ---

func (s *MemoryStore) UpsertResourceType(ctx context.Context, rt permit.ResourceType) error {
	s.mu.Lock()
	s.types[rt.ID] = rt
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnPermissionDefinitionChanged()
	}
	return nil
}

func (s *MemoryStore) UpsertRole(ctx context.Context, role permit.Role) error {
	if err := validateRoleGrants(role); err != nil {
		return err
	}
	s.mu.Lock()
	s.roles[role.ID] = role
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnPermissionDefinitionChanged()
	}
	return nil
}

func (s *MemoryStore) AssignRole(ctx context.Context, principal, roleID, tenant string) error {
	s.mu.Lock()
	if tenant == "" {
		set := s.globalRoles[principal]
		if set == nil {
			set = make(map[string]struct{})
			s.globalRoles[principal] = set
		}
		set[roleID] = struct{}{}
	} else {
		byPrincipal := s.tenantRoles[tenant]
		if byPrincipal == nil {
			byPrincipal = make(map[string]map[string]struct{})
			s.tenantRoles[tenant] = byPrincipal
		}
		set := byPrincipal[principal]
		if set == nil {
			set = make(map[string]struct{})
			byPrincipal[principal] = set
		}
		set[roleID] = struct{}{}
	}
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnRoleAssignmentChanged(principal)
	}
	return nil
}

func (s *MemoryStore) RevokeRole(ctx context.Context, principal, roleID, tenant string) error {
	s.mu.Lock()
	if tenant == "" {
		delete(s.globalRoles[principal], roleID)
	} else {
		delete(s.tenantRoles[tenant][principal], roleID)
	}
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnRoleAssignmentChanged(principal)
	}
	return nil
}

func (s *MemoryStore) SetDefaultTenant(ctx context.Context, principal, tenant string) error {
	s.mu.Lock()
	if tenant == "" {
		delete(s.defaultTenant, principal)
	} else {
		s.defaultTenant[principal] = tenant
	}
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnRoleAssignmentChanged(principal)
	}
	return nil
}

func (s *MemoryStore) AddResourceGrant(ctx context.Context, roleID string, g permit.ResourceGrant) error {
	s.mu.Lock()
	s.resourceGrants[roleID] = append(s.resourceGrants[roleID], g)
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnPermissionDefinitionChanged()
	}
	return nil
}

func (s *MemoryStore) SetOwner(ctx context.Context, resourceType, resourceID, principal string) error {
	s.mu.Lock()
	ref := permit.ResourceRef{Type: resourceType, ID: resourceID}
	if principal == "" {
		delete(s.owners, ref)
	} else {
		s.owners[ref] = principal
	}
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		if principal != "" {
			n.OnRoleAssignmentChanged(principal)
		} else {
			n.OnPermissionDefinitionChanged()
		}
	}
	return nil
}

func (s *MemoryStore) SetParent(ctx context.Context, child, parent permit.ResourceRef) error {
	s.mu.Lock()
	s.parents[child] = parent
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		// a moved subtree can affect any principal's inherited permissions
		n.OnPermissionDefinitionChanged()
	}
	return nil
}

func (s *MemoryStore) RemoveParent(ctx context.Context, child permit.ResourceRef) error {
	s.mu.Lock()
	delete(s.parents, child)
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnPermissionDefinitionChanged()
	}
	return nil
}

func (s *MemoryStore) AddDelegation(ctx context.Context, d permit.Delegation) error {
	s.mu.Lock()
	s.delegations[d.ID] = d
	s.mu.Unlock()
	if n := s.notifier(); n != nil {
		n.OnRoleAssignmentChanged(d.Delegate)
	}
	return nil
}

func (s *MemoryStore) RemoveDelegation(ctx context.Context, id string) error {
	s.mu.Lock()
	d, ok := s.delegations[id]
	delete(s.delegations, id)
	s.mu.Unlock()
	if ok {
		if n := s.notifier(); n != nil {
			n.OnRoleAssignmentChanged(d.Delegate)
		}
	}
	return nil
}
