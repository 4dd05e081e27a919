package permit

import (
	"time"
)

// SuperAdminRole is the distinguished role name that bypasses all other
// evaluation. It must be held through a global assignment to take effect.
const SuperAdminRole = "superadmin"

// GlobalTenant is the tenant component used in cache keys and assignments
// when a resolution runs without tenant context.
const GlobalTenant = "global"

// ResourceRef identifies one concrete resource instance.
type ResourceRef struct {
	Type string `json:"type" yaml:"type"`
	ID   string `json:"id" yaml:"id"`
}

func (r ResourceRef) String() string {
	return r.Type + ":" + r.ID
}

// TimeWindow restricts when a grant counts. All populated constraints are
// ANDed: the absolute range, the weekday set and the hour-of-day range must
// each hold at evaluation time. A zero TimeWindow is always satisfied.
type TimeWindow struct {
	NotBefore time.Time      `json:"not_before,omitempty" yaml:"not_before,omitempty"`
	NotAfter  time.Time      `json:"not_after,omitempty" yaml:"not_after,omitempty"`
	Days      []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"`
	Start     string         `json:"start,omitempty" yaml:"start,omitempty"` // "09:00"
	End       string         `json:"end,omitempty" yaml:"end,omitempty"`    // "17:00"
}

// Contains reports whether now satisfies every populated constraint.
func (w *TimeWindow) Contains(now time.Time) bool {
	if w == nil {
		return true
	}
	if !w.NotBefore.IsZero() && now.Before(w.NotBefore) {
		return false
	}
	if !w.NotAfter.IsZero() && now.After(w.NotAfter) {
		return false
	}
	if len(w.Days) > 0 {
		ok := false
		for _, d := range w.Days {
			if now.Weekday() == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if w.Start != "" && w.End != "" {
		start, err := time.Parse("15:04", w.Start)
		if err != nil {
			return false
		}
		end, err := time.Parse("15:04", w.End)
		if err != nil {
			return false
		}
		m := now.Hour()*60 + now.Minute()
		s := start.Hour()*60 + start.Minute()
		e := end.Hour()*60 + end.Minute()
		if s <= e {
			return m >= s && m <= e
		}
		// window spans midnight
		return m >= s || m <= e
	}
	return true
}

// PermissionGrant is one entry of a role's permission set: an action on a
// resource type, optionally time-constrained. Either position may hold the
// wildcard token "*".
type PermissionGrant struct {
	Resource string      `json:"resource" yaml:"resource"`
	Action   string      `json:"action" yaml:"action"`
	Window   *TimeWindow `json:"window,omitempty" yaml:"window,omitempty"`
}

// Key renders the grant in resource:action form.
func (g PermissionGrant) Key() string {
	return g.Resource + ":" + g.Action
}

// ResourceGrant binds a permission to one concrete resource instance,
// reached through a role like any other grant.
type ResourceGrant struct {
	Resource   string      `json:"resource" yaml:"resource"`
	Action     string      `json:"action" yaml:"action"`
	ResourceID string      `json:"resource_id" yaml:"resource_id"`
	Window     *TimeWindow `json:"window,omitempty" yaml:"window,omitempty"`
}

// Role is a named bundle of grants. Roles carry no tenant scope themselves;
// scoping happens at assignment time.
type Role struct {
	ID     string            `json:"id" yaml:"id"`
	Name   string            `json:"name" yaml:"name"`
	Grants []PermissionGrant `json:"grants" yaml:"grants"`
}

// RoleAssignment binds a principal to a role globally (empty Tenant) or
// within one tenant.
type RoleAssignment struct {
	Principal string `json:"principal" yaml:"principal"`
	RoleID    string `json:"role_id" yaml:"role_id"`
	Tenant    string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
}

// ResourceType describes a protectable category: whether instances inherit
// permissions from their parent, whether they have owners, and which actions
// an owner may always perform.
type ResourceType struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Hierarchy    bool     `json:"hierarchy" yaml:"hierarchy"`
	Ownership    bool     `json:"ownership" yaml:"ownership"`
	OwnerActions []string `json:"owner_actions,omitempty" yaml:"owner_actions,omitempty"`
}

// Delegation is a time-bounded transfer of a subset of the delegator's
// permissions to the delegate. Delegated grants never exceed what the
// delegator can do at evaluation time.
type Delegation struct {
	ID        string            `json:"id" yaml:"id"`
	Delegator string            `json:"delegator" yaml:"delegator"`
	Delegate  string            `json:"delegate" yaml:"delegate"`
	Grants    []PermissionGrant `json:"grants" yaml:"grants"`
	Starts    time.Time         `json:"starts,omitempty" yaml:"starts,omitempty"`
	Expires   time.Time         `json:"expires,omitempty" yaml:"expires,omitempty"`
}

// Active reports whether the delegation's validity window covers now.
// Zero bounds are open ended.
func (d *Delegation) Active(now time.Time) bool {
	if d == nil {
		return false
	}
	if !d.Starts.IsZero() && now.Before(d.Starts) {
		return false
	}
	if !d.Expires.IsZero() && now.After(d.Expires) {
		return false
	}
	return true
}

// ResolveRequest is one authorization question: may Principal perform Action
// on ResourceType (optionally on instance ResourceID) under Tenant. Empty
// Tenant means "resolve the principal's default tenant, or evaluate
// global-only if there is none". Empty ResourceID means a type-level check.
type ResolveRequest struct {
	Principal    string
	Action       string
	ResourceType string
	ResourceID   string
	Tenant       string
}

// Resolution paths reported in decisions and audit events.
const (
	PathSuperAdmin = "superadmin"
	PathCache      = "cache"
	PathRole       = "role"
	PathResource   = "resource"
	PathHierarchy  = "hierarchy"
	PathOwner      = "owner"
	PathWildcard   = "wildcard"
	PathDelegation = "delegation"
	PathDeny       = "deny"
)

// Decision is the explained form of a verdict, produced by Resolver.Explain.
type Decision struct {
	Granted bool      `json:"granted"`
	Path    string    `json:"path"`
	Trace   []string  `json:"trace,omitempty"`
	At      time.Time `json:"at"`
}
