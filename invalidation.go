package permit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit/logger"
)

// EventKind classifies a mutation event.
type EventKind string

const (
	EventRoleAssignmentChanged       EventKind = "role_assignment_changed"
	EventTenantPermissionsChanged    EventKind = "tenant_permissions_changed"
	EventPermissionDefinitionChanged EventKind = "permission_definition_changed"
)

// Event describes a mutation that makes cached verdicts stale.
type Event struct {
	Kind      EventKind `json:"kind"`
	Principal string    `json:"principal,omitempty"`
	Tenant    string    `json:"tenant,omitempty"`
}

// Invalidator is anything holding per-principal/per-tenant cached state.
// DecisionCache and stores.CachedStore both satisfy it.
type Invalidator interface {
	InvalidateByPrincipal(principal string)
	InvalidateByTenant(tenant string)
	Clear()
}

// Bus carries invalidation events between the admin plane and engine
// instances.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Coordinator applies mutation events to every registered invalidator. It
// implements the mutation-notification interface the stores call into, and
// can additionally run against a Bus to converge multiple engine instances.
type Coordinator struct {
	targets []Invalidator
	log     logger.Logger
}

// NewCoordinator builds a coordinator over the given invalidation targets.
func NewCoordinator(targets ...Invalidator) *Coordinator {
	return &Coordinator{targets: targets, log: logger.Null()}
}

// SetLogger installs a structured logger.
func (c *Coordinator) SetLogger(l logger.Logger) {
	if l != nil {
		c.log = l
	}
}

// OnRoleAssignmentChanged evicts everything keyed by the principal.
func (c *Coordinator) OnRoleAssignmentChanged(principal string) {
	c.log.Info("invalidate by principal", "principal", principal)
	for _, t := range c.targets {
		t.InvalidateByPrincipal(principal)
	}
}

// OnTenantPermissionsChanged evicts everything keyed by the tenant.
func (c *Coordinator) OnTenantPermissionsChanged(tenant string) {
	c.log.Info("invalidate by tenant", "tenant", tenant)
	for _, t := range c.targets {
		t.InvalidateByTenant(tenant)
	}
}

// OnPermissionDefinitionChanged clears every target.
func (c *Coordinator) OnPermissionDefinitionChanged() {
	c.log.Info("invalidate all")
	for _, t := range c.targets {
		t.Clear()
	}
}

// Apply dispatches one event.
func (c *Coordinator) Apply(ev Event) {
	switch ev.Kind {
	case EventRoleAssignmentChanged:
		c.OnRoleAssignmentChanged(ev.Principal)
	case EventTenantPermissionsChanged:
		c.OnTenantPermissionsChanged(ev.Tenant)
	case EventPermissionDefinitionChanged:
		c.OnPermissionDefinitionChanged()
	default:
		c.log.Error("unknown invalidation event", "kind", string(ev.Kind))
	}
}

// Run subscribes to the bus and applies events until ctx is done.
func (c *Coordinator) Run(ctx context.Context, bus Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Apply(ev)
		}
	}
}

// ProcessBus is an in-process Bus for single-instance deployments and tests.
type ProcessBus struct {
	mu   sync.Mutex
	subs []chan Event
}

func NewProcessBus() *ProcessBus { return &ProcessBus{} }

func (b *ProcessBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *ProcessBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	// unregister on cancellation so an abandoned subscriber with a full
	// buffer cannot stall future publishes
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()
	return ch, nil
}

// DefaultRedisChannel is the pub/sub channel invalidation events travel on.
const DefaultRedisChannel = "permit:invalidation"

// RedisBus carries invalidation events over redis pub/sub so that every
// engine instance sharing the store converges after a mutation.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     logger.Logger
}

// NewRedisBus builds a bus on the given client. Empty channel selects
// DefaultRedisChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisBus{client: client, channel: channel, log: logger.Null()}
}

// SetLogger installs a structured logger.
func (b *RedisBus) SetLogger(l logger.Logger) {
	if l != nil {
		b.log = l
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	// force the subscription before returning so publishes are not lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Error("bad invalidation payload", "error", err.Error())
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
