package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permit"
)

// SQLStore persists the full permission model through squealx. It works
// against any squealx-supported driver; tests run it on sqlite.
//
// The grant payloads are stored as JSON columns rather than normalized
// rows. Grant sets are small and always read whole, so a JSON column keeps
// the row count and the query surface down.
type SQLStore struct {
	db     *squealx.DB
	notify MutationNotifier
}

func NewSQLStore(db *squealx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SetNotifier installs the invalidation hook. Pass nil to detach.
func (s *SQLStore) SetNotifier(n MutationNotifier) { s.notify = n }

func (s *SQLStore) IsSuperAdmin(ctx context.Context, principal string) (bool, error) {
	q := `SELECT COUNT(*) FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.principal = :principal AND ra.tenant = '' AND r.name = :name`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal": principal, "name": permit.SuperAdminRole})
	if err != nil {
		return false, err
	}
	defer rows.Close()
	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, err
		}
	}
	return count > 0, nil
}

func (s *SQLStore) ResolveDefaultTenant(ctx context.Context, principal string) (string, error) {
	q := `SELECT tenant FROM principal_tenants WHERE principal = :principal`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal": principal})
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		return "", nil
	}
	var tenant string
	if err := rows.Scan(&tenant); err != nil {
		return "", err
	}
	return tenant, nil
}

func (s *SQLStore) UnionPermissions(ctx context.Context, principal, tenant string) ([]permit.PermissionGrant, error) {
	q := `SELECT r.grants_json FROM roles r
		JOIN role_assignments ra ON ra.role_id = r.id
		WHERE ra.principal = :principal AND (ra.tenant = '' OR ra.tenant = :tenant)`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"principal": principal, "tenant": tenant})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []permit.PermissionGrant
	for rows.Next() {
		var grantsJSON string
		if err := rows.Scan(&grantsJSON); err != nil {
			return nil, err
		}
		var grants []permit.PermissionGrant
		if err := json.Unmarshal([]byte(grantsJSON), &grants); err != nil {
			// a corrupt row must fail the resolution, not shrink the union
			return nil, fmt.Errorf("decode role grants for %s: %w", principal, err)
		}
		out = append(out, grants...)
	}
	return out, nil
}

func (s *SQLStore) HasResourceGrant(ctx context.Context, principal, tenant, resourceType, action, resourceID string, now time.Time) (bool, error) {
	q := `SELECT rg.window_json FROM resource_grants rg
		JOIN role_assignments ra ON ra.role_id = rg.role_id
		WHERE ra.principal = :principal AND (ra.tenant = '' OR ra.tenant = :tenant)
		AND rg.resource = :resource AND rg.resource_id = :resource_id
		AND (rg.action = :action OR rg.action = '*')`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"principal":   principal,
		"tenant":      tenant,
		"resource":    resourceType,
		"resource_id": resourceID,
		"action":      action,
	})
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var windowJSON interface{}
		if err := rows.Scan(&windowJSON); err != nil {
			return false, err
		}
		window, ok := decodeWindow(windowJSON)
		if !ok {
			continue
		}
		if window.Contains(now) {
			return true, nil
		}
	}
	return false, nil
}

// decodeWindow parses an optional window column. A NULL or empty column is
// an unrestricted grant.
func decodeWindow(raw interface{}) (*permit.TimeWindow, bool) {
	var payload string
	switch v := raw.(type) {
	case nil:
		return nil, true
	case string:
		payload = v
	case []byte:
		payload = string(v)
	default:
		return nil, false
	}
	if payload == "" || payload == "null" {
		return nil, true
	}
	var w permit.TimeWindow
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, false
	}
	return &w, true
}

func (s *SQLStore) ParentResource(ctx context.Context, resourceType, resourceID string) (permit.ResourceRef, bool, error) {
	q := `SELECT parent_type, parent_id FROM resource_parents WHERE child_type = :child_type AND child_id = :child_id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"child_type": resourceType, "child_id": resourceID})
	if err != nil {
		return permit.ResourceRef{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return permit.ResourceRef{}, false, nil
	}
	var ref permit.ResourceRef
	if err := rows.Scan(&ref.Type, &ref.ID); err != nil {
		return permit.ResourceRef{}, false, err
	}
	return ref, true, nil
}

func (s *SQLStore) resourceType(ctx context.Context, id string) (permit.ResourceType, bool, error) {
	q := `SELECT id, name, hierarchy, ownership, owner_actions_json FROM resource_types WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return permit.ResourceType{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return permit.ResourceType{}, false, nil
	}
	var rt permit.ResourceType
	var hierarchy, ownership int
	var actionsJSON string
	if err := rows.Scan(&rt.ID, &rt.Name, &hierarchy, &ownership, &actionsJSON); err != nil {
		return permit.ResourceType{}, false, err
	}
	rt.Hierarchy = hierarchy != 0
	rt.Ownership = ownership != 0
	_ = json.Unmarshal([]byte(actionsJSON), &rt.OwnerActions)
	return rt, true, nil
}

func (s *SQLStore) SupportsHierarchy(ctx context.Context, resourceType string) (bool, error) {
	rt, ok, err := s.resourceType(ctx, resourceType)
	if err != nil || !ok {
		return false, err
	}
	return rt.Hierarchy, nil
}

func (s *SQLStore) IsOwner(ctx context.Context, principal, resourceType, resourceID string) (bool, error) {
	q := `SELECT COUNT(*) FROM resource_owners WHERE resource_type = :resource_type AND resource_id = :resource_id AND principal = :principal`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"resource_type": resourceType, "resource_id": resourceID, "principal": principal})
	if err != nil {
		return false, err
	}
	defer rows.Close()
	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, err
		}
	}
	return count > 0, nil
}

func (s *SQLStore) SupportsOwnership(ctx context.Context, resourceType string) (bool, error) {
	rt, ok, err := s.resourceType(ctx, resourceType)
	if err != nil || !ok {
		return false, err
	}
	return rt.Ownership, nil
}

func (s *SQLStore) OwnerActions(ctx context.Context, resourceType string) ([]string, error) {
	rt, _, err := s.resourceType(ctx, resourceType)
	if err != nil {
		return nil, err
	}
	return rt.OwnerActions, nil
}

func (s *SQLStore) ActiveDelegations(ctx context.Context, principal string, now time.Time) ([]permit.Delegation, error) {
	q := `SELECT id, delegator, delegate, grants_json, starts, expires FROM delegations WHERE delegate = :delegate`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"delegate": principal})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []permit.Delegation
	for rows.Next() {
		var d permit.Delegation
		var grantsJSON string
		var startsRaw, expiresRaw interface{}
		if err := rows.Scan(&d.ID, &d.Delegator, &d.Delegate, &grantsJSON, &startsRaw, &expiresRaw); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(grantsJSON), &d.Grants)
		d.Starts = scanTime(startsRaw)
		d.Expires = scanTime(expiresRaw)
		if !d.Active(now) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// --- write surface ---

func (s *SQLStore) UpsertResourceType(ctx context.Context, rt permit.ResourceType) error {
	actions, _ := json.Marshal(rt.OwnerActions)
	del := `DELETE FROM resource_types WHERE id = :id`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"id": rt.ID}); err != nil {
		return err
	}
	q := `INSERT INTO resource_types(id, name, hierarchy, ownership, owner_actions_json)
		VALUES(:id, :name, :hierarchy, :ownership, :owner_actions_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                 rt.ID,
		"name":               rt.Name,
		"hierarchy":          boolToInt(rt.Hierarchy),
		"ownership":          boolToInt(rt.Ownership),
		"owner_actions_json": string(actions),
	})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}

func (s *SQLStore) UpsertRole(ctx context.Context, role permit.Role) error {
	if err := validateRoleGrants(role); err != nil {
		return err
	}
	grants, _ := json.Marshal(role.Grants)
	del := `DELETE FROM roles WHERE id = :id`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"id": role.ID}); err != nil {
		return err
	}
	q := `INSERT INTO roles(id, name, grants_json, created_at) VALUES(:id, :name, :grants_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          role.ID,
		"name":        role.Name,
		"grants_json": string(grants),
		"created_at":  time.Now(),
	})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}

func (s *SQLStore) AssignRole(ctx context.Context, principal, roleID, tenant string) error {
	del := `DELETE FROM role_assignments WHERE principal = :principal AND role_id = :role_id AND tenant = :tenant`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"principal": principal, "role_id": roleID, "tenant": tenant}); err != nil {
		return err
	}
	q := `INSERT INTO role_assignments(principal, role_id, tenant) VALUES(:principal, :role_id, :tenant)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal": principal, "role_id": roleID, "tenant": tenant})
	if err == nil && s.notify != nil {
		s.notify.OnRoleAssignmentChanged(principal)
	}
	return err
}

func (s *SQLStore) RevokeRole(ctx context.Context, principal, roleID, tenant string) error {
	q := `DELETE FROM role_assignments WHERE principal = :principal AND role_id = :role_id AND tenant = :tenant`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal": principal, "role_id": roleID, "tenant": tenant})
	if err == nil && s.notify != nil {
		s.notify.OnRoleAssignmentChanged(principal)
	}
	return err
}

func (s *SQLStore) SetDefaultTenant(ctx context.Context, principal, tenant string) error {
	del := `DELETE FROM principal_tenants WHERE principal = :principal`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"principal": principal}); err != nil {
		return err
	}
	if tenant != "" {
		q := `INSERT INTO principal_tenants(principal, tenant) VALUES(:principal, :tenant)`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"principal": principal, "tenant": tenant}); err != nil {
			return err
		}
	}
	if s.notify != nil {
		s.notify.OnRoleAssignmentChanged(principal)
	}
	return nil
}

func (s *SQLStore) AddResourceGrant(ctx context.Context, roleID string, g permit.ResourceGrant) error {
	var windowJSON interface{}
	if g.Window != nil {
		payload, err := json.Marshal(g.Window)
		if err != nil {
			return err
		}
		windowJSON = string(payload)
	}
	q := `INSERT INTO resource_grants(role_id, resource, action, resource_id, window_json)
		VALUES(:role_id, :resource, :action, :resource_id, :window_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"role_id":     roleID,
		"resource":    g.Resource,
		"action":      g.Action,
		"resource_id": g.ResourceID,
		"window_json": windowJSON,
	})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}

func (s *SQLStore) SetOwner(ctx context.Context, resourceType, resourceID, principal string) error {
	del := `DELETE FROM resource_owners WHERE resource_type = :resource_type AND resource_id = :resource_id`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"resource_type": resourceType, "resource_id": resourceID}); err != nil {
		return err
	}
	if principal != "" {
		q := `INSERT INTO resource_owners(resource_type, resource_id, principal) VALUES(:resource_type, :resource_id, :principal)`
		if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"resource_type": resourceType, "resource_id": resourceID, "principal": principal}); err != nil {
			return err
		}
	}
	if s.notify != nil {
		if principal != "" {
			s.notify.OnRoleAssignmentChanged(principal)
		} else {
			s.notify.OnPermissionDefinitionChanged()
		}
	}
	return nil
}

func (s *SQLStore) SetParent(ctx context.Context, child, parent permit.ResourceRef) error {
	del := `DELETE FROM resource_parents WHERE child_type = :child_type AND child_id = :child_id`
	if _, err := s.db.NamedExecContext(ctx, del, map[string]any{"child_type": child.Type, "child_id": child.ID}); err != nil {
		return err
	}
	q := `INSERT INTO resource_parents(child_type, child_id, parent_type, parent_id)
		VALUES(:child_type, :child_id, :parent_type, :parent_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"child_type":  child.Type,
		"child_id":    child.ID,
		"parent_type": parent.Type,
		"parent_id":   parent.ID,
	})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}

func (s *SQLStore) RemoveParent(ctx context.Context, child permit.ResourceRef) error {
	q := `DELETE FROM resource_parents WHERE child_type = :child_type AND child_id = :child_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"child_type": child.Type, "child_id": child.ID})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}

func (s *SQLStore) AddDelegation(ctx context.Context, d permit.Delegation) error {
	grants, _ := json.Marshal(d.Grants)
	q := `INSERT INTO delegations(id, delegator, delegate, grants_json, starts, expires)
		VALUES(:id, :delegator, :delegate, :grants_json, :starts, :expires)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          d.ID,
		"delegator":   d.Delegator,
		"delegate":    d.Delegate,
		"grants_json": string(grants),
		"starts":      sqlNullTimeOrNil(d.Starts),
		"expires":     sqlNullTimeOrNil(d.Expires),
	})
	if err == nil && s.notify != nil {
		s.notify.OnRoleAssignmentChanged(d.Delegate)
	}
	return err
}

func (s *SQLStore) RemoveDelegation(ctx context.Context, id string) error {
	q := `DELETE FROM delegations WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	if err == nil && s.notify != nil {
		s.notify.OnPermissionDefinitionChanged()
	}
	return err
}
