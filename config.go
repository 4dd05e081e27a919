package permit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedStore is the write surface Config.Apply needs. stores.MemoryStore and
// stores.SQLStore implement it.
type SeedStore interface {
	UpsertResourceType(ctx context.Context, rt ResourceType) error
	UpsertRole(ctx context.Context, role Role) error
	AssignRole(ctx context.Context, principal, roleID, tenant string) error
	SetDefaultTenant(ctx context.Context, principal, tenant string) error
	AddResourceGrant(ctx context.Context, roleID string, g ResourceGrant) error
	SetOwner(ctx context.Context, resourceType, resourceID, principal string) error
	SetParent(ctx context.Context, child, parent ResourceRef) error
	AddDelegation(ctx context.Context, d Delegation) error
}

// OwnerConfig binds an instance to its owner in seed data.
type OwnerConfig struct {
	Resource  string `json:"resource" yaml:"resource"`
	ID        string `json:"id" yaml:"id"`
	Principal string `json:"principal" yaml:"principal"`
}

// ParentConfig declares one hierarchy edge in seed data.
type ParentConfig struct {
	Child  ResourceRef `json:"child" yaml:"child"`
	Parent ResourceRef `json:"parent" yaml:"parent"`
}

// EngineConfig carries the resolver and cache knobs.
type EngineConfig struct {
	DecisionCacheTTL    int64 `json:"decision_cache_ttl_ms" yaml:"decision_cache_ttl_ms"`
	SweepInterval       int64 `json:"sweep_interval_ms" yaml:"sweep_interval_ms"`
	MaxDepth            int   `json:"max_depth" yaml:"max_depth"`
	AuditBuffer         int   `json:"audit_buffer" yaml:"audit_buffer"`
	StoreCacheTTL       int64 `json:"store_cache_ttl_ms" yaml:"store_cache_ttl_ms"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// Config is the complete engine configuration plus optional seed data.
type Config struct {
	Engine         EngineConfig               `json:"engine" yaml:"engine"`
	ResourceTypes  []ResourceType             `json:"resource_types,omitempty" yaml:"resource_types,omitempty"`
	Roles          []Role                     `json:"roles,omitempty" yaml:"roles,omitempty"`
	Assignments    []RoleAssignment           `json:"assignments,omitempty" yaml:"assignments,omitempty"`
	DefaultTenants map[string]string          `json:"default_tenants,omitempty" yaml:"default_tenants,omitempty"`
	ResourceGrants map[string][]ResourceGrant `json:"resource_grants,omitempty" yaml:"resource_grants,omitempty"`
	Owners         []OwnerConfig              `json:"owners,omitempty" yaml:"owners,omitempty"`
	Parents        []ParentConfig             `json:"parents,omitempty" yaml:"parents,omitempty"`
	Delegations    []Delegation               `json:"delegations,omitempty" yaml:"delegations,omitempty"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile dispatches on the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("permit: unsupported config format %q", filepath.Ext(path))
	}
}

// ToYAML exports the config.
func (c *Config) ToYAML() ([]byte, error) { return yaml.Marshal(c) }

// ToJSON exports the config.
func (c *Config) ToJSON() ([]byte, error) { return json.MarshalIndent(c, "", "  ") }

// Options derives resolver options from the engine knobs.
func (c *Config) Options() []Option {
	opts := make([]Option, 0, 4)
	if c.Engine.DecisionCacheTTL > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.Engine.DecisionCacheTTL)*time.Millisecond))
	}
	if c.Engine.SweepInterval > 0 {
		opts = append(opts, WithSweepInterval(time.Duration(c.Engine.SweepInterval)*time.Millisecond))
	}
	if c.Engine.MaxDepth > 0 {
		opts = append(opts, WithMaxDepth(c.Engine.MaxDepth))
	}
	return opts
}

// Apply seeds the store with the config's resource types, roles,
// assignments, ownerships, hierarchy edges and delegations.
func (c *Config) Apply(ctx context.Context, store SeedStore) error {
	for _, rt := range c.ResourceTypes {
		if err := store.UpsertResourceType(ctx, rt); err != nil {
			return fmt.Errorf("resource type %s: %w", rt.ID, err)
		}
	}
	for _, role := range c.Roles {
		if err := store.UpsertRole(ctx, role); err != nil {
			return fmt.Errorf("role %s: %w", role.ID, err)
		}
	}
	for roleID, grants := range c.ResourceGrants {
		for _, g := range grants {
			if err := store.AddResourceGrant(ctx, roleID, g); err != nil {
				return fmt.Errorf("resource grant for role %s: %w", roleID, err)
			}
		}
	}
	for _, a := range c.Assignments {
		if err := store.AssignRole(ctx, a.Principal, a.RoleID, a.Tenant); err != nil {
			return fmt.Errorf("assignment %s->%s: %w", a.Principal, a.RoleID, err)
		}
	}
	for principal, tenant := range c.DefaultTenants {
		if err := store.SetDefaultTenant(ctx, principal, tenant); err != nil {
			return fmt.Errorf("default tenant for %s: %w", principal, err)
		}
	}
	for _, o := range c.Owners {
		if err := store.SetOwner(ctx, o.Resource, o.ID, o.Principal); err != nil {
			return fmt.Errorf("owner of %s:%s: %w", o.Resource, o.ID, err)
		}
	}
	for _, p := range c.Parents {
		if err := store.SetParent(ctx, p.Child, p.Parent); err != nil {
			return fmt.Errorf("parent edge %s: %w", p.Child, err)
		}
	}
	for _, d := range c.Delegations {
		if err := store.AddDelegation(ctx, d); err != nil {
			return fmt.Errorf("delegation %s: %w", d.ID, err)
		}
	}
	return nil
}
