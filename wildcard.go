package permit

import (
	"strings"
	"time"
)

// Wildcard is the token matching any value in a grant position.
const Wildcard = "*"

type grantKind uint8

const (
	grantExact grantKind = iota
	grantResourceWildcard // *:action
	grantActionWildcard   // resource:*
	grantGlobalWildcard   // *:*
)

// CompiledGrant is a permission grant parsed once at ingestion time, so
// matching never re-inspects the raw strings.
type CompiledGrant struct {
	kind     grantKind
	resource string
	action   string
	window   *TimeWindow
}

// CompileGrant classifies a grant into its wildcard variant.
func CompileGrant(g PermissionGrant) CompiledGrant {
	cg := CompiledGrant{resource: g.Resource, action: g.Action, window: g.Window}
	switch {
	case g.Resource == Wildcard && g.Action == Wildcard:
		cg.kind = grantGlobalWildcard
	case g.Resource == Wildcard:
		cg.kind = grantResourceWildcard
	case g.Action == Wildcard:
		cg.kind = grantActionWildcard
	default:
		cg.kind = grantExact
	}
	return cg
}

// CompileGrants compiles a whole grant set.
func CompileGrants(grants []PermissionGrant) []CompiledGrant {
	out := make([]CompiledGrant, 0, len(grants))
	for _, g := range grants {
		out = append(out, CompileGrant(g))
	}
	return out
}

// ParseGrant parses a "resource:action" string. Missing action is treated
// as the wildcard, matching how grants are written in config files.
func ParseGrant(s string) PermissionGrant {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return PermissionGrant{Resource: s[:i], Action: s[i+1:]}
	}
	return PermissionGrant{Resource: s, Action: Wildcard}
}

// active reports whether the grant's window (if any) covers now.
func (cg CompiledGrant) active(now time.Time) bool {
	return cg.window.Contains(now)
}

// matchExact reports whether the set holds a literal (resource, action)
// grant whose window covers now.
func matchExact(grants []CompiledGrant, resource, action string, now time.Time) bool {
	for _, cg := range grants {
		if cg.kind == grantExact && cg.resource == resource && cg.action == action && cg.active(now) {
			return true
		}
	}
	return false
}

// matchWildcard applies wildcard matching over the compiled set: exact
// first, then *:action, resource:*, *:*. The order only affects which grant
// short-circuits; any match grants.
func matchWildcard(grants []CompiledGrant, resource, action string, now time.Time) bool {
	for _, cg := range grants {
		if cg.kind == grantExact && cg.resource == resource && cg.action == action && cg.active(now) {
			return true
		}
	}
	for _, cg := range grants {
		if cg.kind == grantResourceWildcard && cg.action == action && cg.active(now) {
			return true
		}
	}
	for _, cg := range grants {
		if cg.kind == grantActionWildcard && cg.resource == resource && cg.active(now) {
			return true
		}
	}
	for _, cg := range grants {
		if cg.kind == grantGlobalWildcard && cg.active(now) {
			return true
		}
	}
	return false
}

// Match reports whether required ("resource:action") is satisfied by the
// given grant strings, wildcard-aware. The matcher trusts the set it is
// given; who may hold "*:*" is an administrative concern.
func Match(required string, granted []string) bool {
	req := ParseGrant(required)
	grants := make([]PermissionGrant, 0, len(granted))
	for _, s := range granted {
		grants = append(grants, ParseGrant(s))
	}
	return matchWildcard(CompileGrants(grants), req.Resource, req.Action, time.Time{})
}
