package permit

import (
	"testing"
	"time"
)

func TestParseGrant(t *testing.T) {
	g := ParseGrant("users:view")
	if g.Resource != "users" || g.Action != "view" {
		t.Fatalf("unexpected parse %+v", g)
	}
	g = ParseGrant("users")
	if g.Resource != "users" || g.Action != Wildcard {
		t.Fatalf("missing action should default to wildcard, got %+v", g)
	}
	g = ParseGrant("*:*")
	if g.Resource != Wildcard || g.Action != Wildcard {
		t.Fatalf("unexpected parse %+v", g)
	}
}

func TestMatch(t *testing.T) {
	for _, tc := range []struct {
		required string
		granted  []string
		want     bool
	}{
		{"users:view", []string{"users:view"}, true},
		{"users:view", []string{"users:edit"}, false},
		{"users:view", []string{"users:*"}, true},
		{"users:delete", []string{"users:*"}, true},
		{"projects:view", []string{"users:*"}, false},
		{"projects:view", []string{"*:view"}, true},
		{"projects:edit", []string{"*:view"}, false},
		{"anything:anything", []string{"*:*"}, true},
		{"users:view", nil, false},
		{"users:view", []string{"projects:edit", "users:view"}, true},
	} {
		if got := Match(tc.required, tc.granted); got != tc.want {
			t.Fatalf("Match(%q, %v) = %v, want %v", tc.required, tc.granted, got, tc.want)
		}
	}
}

func TestMatchExactIgnoresWildcards(t *testing.T) {
	now := time.Now()
	grants := CompileGrants([]PermissionGrant{
		{Resource: "users", Action: Wildcard},
		{Resource: Wildcard, Action: "view"},
	})
	if matchExact(grants, "users", "view", now) {
		t.Fatalf("exact match must not consider wildcard grants")
	}
	grants = CompileGrants([]PermissionGrant{{Resource: "users", Action: "view"}})
	if !matchExact(grants, "users", "view", now) {
		t.Fatalf("literal grant should match exactly")
	}
}

func TestWindowedGrantMatching(t *testing.T) {
	// 2024-01-01 was a Monday
	monday := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 1, 7, 10, 0, 0, 0, time.UTC)
	grants := CompileGrants([]PermissionGrant{{
		Resource: "reports",
		Action:   "view",
		Window:   &TimeWindow{Days: []time.Weekday{time.Monday}},
	}})
	if !matchExact(grants, "reports", "view", monday) {
		t.Fatalf("grant should be active on Monday")
	}
	if matchExact(grants, "reports", "view", sunday) {
		t.Fatalf("grant should be inactive on Sunday")
	}
}

func TestTimeWindowContains(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) // Monday noon
	for _, tc := range []struct {
		name string
		w    *TimeWindow
		want bool
	}{
		{"nil window", nil, true},
		{"zero window", &TimeWindow{}, true},
		{"not yet valid", &TimeWindow{NotBefore: base.Add(time.Hour)}, false},
		{"already expired", &TimeWindow{NotAfter: base.Add(-time.Hour)}, false},
		{"inside absolute range", &TimeWindow{NotBefore: base.Add(-time.Hour), NotAfter: base.Add(time.Hour)}, true},
		{"right weekday", &TimeWindow{Days: []time.Weekday{time.Monday}}, true},
		{"wrong weekday", &TimeWindow{Days: []time.Weekday{time.Friday}}, false},
		{"inside hours", &TimeWindow{Start: "09:00", End: "17:00"}, true},
		{"outside hours", &TimeWindow{Start: "13:00", End: "17:00"}, false},
		{"midnight wrap covers noon side", &TimeWindow{Start: "22:00", End: "13:00"}, true},
		{"midnight wrap excludes gap", &TimeWindow{Start: "22:00", End: "06:00"}, false},
	} {
		if got := tc.w.Contains(base); got != tc.want {
			t.Fatalf("%s: Contains = %v, want %v", tc.name, got, tc.want)
		}
	}
}
