package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/permit"
)

func seedMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertResourceType(ctx, permit.ResourceType{
		ID: "documents", Name: "Documents", Hierarchy: true, Ownership: true,
		OwnerActions: []string{"view", "edit"},
	}); err != nil {
		t.Fatalf("seed type: %v", err)
	}
	if err := s.UpsertRole(ctx, permit.Role{ID: "admin", Name: permit.SuperAdminRole}); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	if err := s.UpsertRole(ctx, permit.Role{ID: "editor", Name: "editor", Grants: []permit.PermissionGrant{
		{Resource: "documents", Action: "view"},
		{Resource: "documents", Action: "edit"},
	}}); err != nil {
		t.Fatalf("seed role: %v", err)
	}
	if err := s.AssignRole(ctx, "root", "admin", ""); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.AssignRole(ctx, "u1", "editor", "t1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := s.SetDefaultTenant(ctx, "u1", "t1"); err != nil {
		t.Fatalf("default tenant: %v", err)
	}
	return s
}

func TestMemoryStoreSuperAdmin(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)

	sa, err := s.IsSuperAdmin(ctx, "root")
	if err != nil || !sa {
		t.Fatalf("root should be superadmin, got %v %v", sa, err)
	}
	sa, err = s.IsSuperAdmin(ctx, "u1")
	if err != nil || sa {
		t.Fatalf("u1 must not be superadmin, got %v %v", sa, err)
	}

	// tenant-scoped assignment of the superadmin role does not count
	if err := s.AssignRole(ctx, "u2", "admin", "t1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	sa, err = s.IsSuperAdmin(ctx, "u2")
	if err != nil || sa {
		t.Fatalf("tenant-scoped superadmin must not bypass, got %v %v", sa, err)
	}
}

func TestMemoryStoreUnionScoping(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)

	union, err := s.UnionPermissions(ctx, "u1", "t1")
	if err != nil || len(union) != 2 {
		t.Fatalf("want editor grants in t1, got %v %v", union, err)
	}
	union, err = s.UnionPermissions(ctx, "u1", "t2")
	if err != nil || len(union) != 0 {
		t.Fatalf("t1 role must not appear under t2, got %v %v", union, err)
	}
	union, err = s.UnionPermissions(ctx, "u1", "")
	if err != nil || len(union) != 0 {
		t.Fatalf("tenant-scoped role must not appear globally, got %v %v", union, err)
	}
}

func TestMemoryStoreResolverScenario(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)
	if err := s.SetOwner(ctx, "documents", "d1", "u2"); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	if err := s.SetParent(ctx, permit.ResourceRef{Type: "documents", ID: "d2"}, permit.ResourceRef{Type: "folders", ID: "f1"}); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	if err := s.AddResourceGrant(ctx, "editor", permit.ResourceGrant{Resource: "folders", Action: "view", ResourceID: "f1"}); err != nil {
		t.Fatalf("add grant: %v", err)
	}

	r, err := permit.New(s)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	defer r.Close()

	for _, tc := range []struct {
		name string
		req  permit.ResolveRequest
		want bool
	}{
		{"superadmin", permit.ResolveRequest{Principal: "root", Action: "anything", ResourceType: "documents"}, true},
		{"role grant via default tenant", permit.ResolveRequest{Principal: "u1", Action: "view", ResourceType: "documents"}, true},
		{"role lacks action", permit.ResolveRequest{Principal: "u1", Action: "delete", ResourceType: "documents"}, false},
		{"owner action", permit.ResolveRequest{Principal: "u2", Action: "edit", ResourceType: "documents", ResourceID: "d1"}, true},
		{"owner action not listed", permit.ResolveRequest{Principal: "u2", Action: "delete", ResourceType: "documents", ResourceID: "d1"}, false},
		{"inherited from folder grant", permit.ResolveRequest{Principal: "u1", Action: "view", ResourceType: "documents", ResourceID: "d2", Tenant: "t1"}, true},
		{"unknown principal", permit.ResolveRequest{Principal: "ghost", Action: "view", ResourceType: "documents"}, false},
	} {
		granted, err := r.Resolve(ctx, tc.req)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if granted != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, granted, tc.want)
		}
	}
}

func TestMemoryStoreRejectsGlobalWildcardOnOrdinaryRole(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.UpsertRole(ctx, permit.Role{ID: "ops", Name: "ops", Grants: []permit.PermissionGrant{
		{Resource: permit.Wildcard, Action: permit.Wildcard},
	}})
	if !errors.Is(err, permit.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput for *:* on ordinary role, got %v", err)
	}
	// narrower wildcards stay legal on ordinary roles
	if err := s.UpsertRole(ctx, permit.Role{ID: "ops", Name: "ops", Grants: []permit.PermissionGrant{
		{Resource: "users", Action: permit.Wildcard},
		{Resource: permit.Wildcard, Action: "view"},
	}}); err != nil {
		t.Fatalf("single-position wildcards should pass, got %v", err)
	}
	if err := s.UpsertRole(ctx, permit.Role{ID: "admin", Name: permit.SuperAdminRole, Grants: []permit.PermissionGrant{
		{Resource: permit.Wildcard, Action: permit.Wildcard},
	}}); err != nil {
		t.Fatalf("superadmin may carry *:*, got %v", err)
	}
}

func TestMemoryStoreRevocation(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)

	union, _ := s.UnionPermissions(ctx, "u1", "t1")
	if len(union) == 0 {
		t.Fatalf("seed grants missing")
	}
	if err := s.RevokeRole(ctx, "u1", "editor", "t1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	union, _ = s.UnionPermissions(ctx, "u1", "t1")
	if len(union) != 0 {
		t.Fatalf("revoked role still contributes grants: %v", union)
	}
}

func TestMemoryStoreDelegations(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)
	now := time.Now()

	if err := s.AddDelegation(ctx, permit.Delegation{
		ID: "del1", Delegator: "u1", Delegate: "u3",
		Grants:  []permit.PermissionGrant{{Resource: "documents", Action: "view"}},
		Expires: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("add delegation: %v", err)
	}
	if err := s.AddDelegation(ctx, permit.Delegation{
		ID: "del2", Delegator: "u1", Delegate: "u3",
		Grants:  []permit.PermissionGrant{{Resource: "documents", Action: "edit"}},
		Expires: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("add delegation: %v", err)
	}

	dels, err := s.ActiveDelegations(ctx, "u3", now)
	if err != nil {
		t.Fatalf("active delegations: %v", err)
	}
	if len(dels) != 1 || dels[0].ID != "del1" {
		t.Fatalf("want only the live delegation, got %v", dels)
	}
}

// notifierSpy records invalidation callbacks.
type notifierSpy struct {
	principals []string
	tenants    []string
	clears     int
}

func (n *notifierSpy) OnRoleAssignmentChanged(principal string) {
	n.principals = append(n.principals, principal)
}

func (n *notifierSpy) OnTenantPermissionsChanged(tenant string) {
	n.tenants = append(n.tenants, tenant)
}

func (n *notifierSpy) OnPermissionDefinitionChanged() { n.clears++ }

func TestMemoryStoreNotifications(t *testing.T) {
	ctx := context.Background()
	s := seedMemoryStore(t)
	spy := &notifierSpy{}
	s.SetNotifier(spy)

	if err := s.AssignRole(ctx, "u9", "editor", "t1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(spy.principals) != 1 || spy.principals[0] != "u9" {
		t.Fatalf("assignment should notify principal, got %v", spy.principals)
	}
	if err := s.UpsertRole(ctx, permit.Role{ID: "viewer", Name: "viewer"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if spy.clears != 1 {
		t.Fatalf("role definition change should notify globally, got %d", spy.clears)
	}
}
