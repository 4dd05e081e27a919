package permit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestCoordinatorFanout(t *testing.T) {
	a := NewDecisionCache(time.Minute, time.Hour)
	defer a.Close()
	b := NewDecisionCache(time.Minute, time.Hour)
	defer b.Close()

	a.Set(NewCacheKey("u1", "t1", "projects", "view", ""), true, 0)
	b.Set(NewCacheKey("u1", "t1", "projects", "view", ""), true, 0)
	b.Set(NewCacheKey("u2", "t1", "projects", "view", ""), true, 0)

	coord := NewCoordinator(a, b)
	coord.OnRoleAssignmentChanged("u1")

	if a.Len() != 0 {
		t.Fatalf("first target should be empty, got %d", a.Len())
	}
	if b.Len() != 1 {
		t.Fatalf("second target should keep u2's entry, got %d", b.Len())
	}

	coord.OnPermissionDefinitionChanged()
	if b.Len() != 0 {
		t.Fatalf("definition change should clear everything, got %d", b.Len())
	}
}

func TestCoordinatorApply(t *testing.T) {
	c := NewDecisionCache(time.Minute, time.Hour)
	defer c.Close()
	c.Set(NewCacheKey("u1", "t1", "projects", "view", ""), true, 0)
	c.Set(NewCacheKey("u2", "t2", "projects", "view", ""), true, 0)

	coord := NewCoordinator(c)
	coord.Apply(Event{Kind: EventTenantPermissionsChanged, Tenant: "t2"})
	if c.Len() != 1 {
		t.Fatalf("tenant event should evict t2 only, got %d", c.Len())
	}
	coord.Apply(Event{Kind: EventRoleAssignmentChanged, Principal: "u1"})
	if c.Len() != 0 {
		t.Fatalf("principal event should evict u1, got %d", c.Len())
	}
}

func TestProcessBusRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus := NewProcessBus()
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	want := Event{Kind: EventRoleAssignmentChanged, Principal: "u1"}
	if err := bus.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatalf("event not delivered")
	}
}

func TestProcessBusDropsCancelledSubscriber(t *testing.T) {
	bus := NewProcessBus()

	subCtx, cancel := context.WithCancel(context.Background())
	if _, err := bus.Subscribe(subCtx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.mu.Lock()
		n := len(bus.subs)
		bus.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cancelled subscriber never unregistered, %d left", n)
		}
		time.Sleep(time.Millisecond)
	}

	// with the dead subscriber gone, publishing must not block even though
	// nobody drains its channel
	ctx, cancelPub := context.WithTimeout(context.Background(), time.Second)
	defer cancelPub()
	for i := 0; i < 100; i++ {
		if err := bus.Publish(ctx, Event{Kind: EventPermissionDefinitionChanged}); err != nil {
			t.Fatalf("publish %d blocked on an abandoned subscriber: %v", i, err)
		}
	}
}

func TestRedisBusEndToEnd(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := NewDecisionCache(time.Minute, time.Hour)
	defer cache.Close()
	cache.Set(NewCacheKey("u1", "t1", "projects", "view", ""), true, 0)

	bus := NewRedisBus(client, "")
	coord := NewCoordinator(cache)
	runErr := make(chan error, 1)

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	ch, err := bus.Subscribe(subCtx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	go func() {
		for ev := range ch {
			coord.Apply(ev)
		}
		runErr <- nil
	}()

	if err := bus.Publish(ctx, Event{Kind: EventRoleAssignmentChanged, Principal: "u1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for cache.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("invalidation never arrived, %d entries left", cache.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}

	stop()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber did not shut down")
	}
}
