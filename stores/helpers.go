package stores

import (
	"fmt"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/permit"
)

// validateRoleGrants rejects the global wildcard on ordinary roles. Granting
// everything is what the superadmin role is for; any other role carrying
// "*:*" is almost certainly a misconfiguration.
func validateRoleGrants(role permit.Role) error {
	if role.Name == permit.SuperAdminRole {
		return nil
	}
	for _, g := range role.Grants {
		if g.Resource == permit.Wildcard && g.Action == permit.Wildcard {
			return fmt.Errorf("%w: role %s: the *:* grant is reserved for the %s role",
				permit.ErrInvalidInput, role.ID, permit.SuperAdminRole)
		}
	}
	return nil
}

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqlNullTimeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanTime normalizes the driver-dependent representations sqlite and
// postgres hand back for timestamp columns.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}
