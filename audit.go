package permit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/permit/logger"
)

// AuditEvent records one resolution outcome.
type AuditEvent struct {
	ID           string    `json:"id"`
	Principal    string    `json:"principal"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Tenant       string    `json:"tenant,omitempty"`
	Granted      bool      `json:"granted"`
	Path         string    `json:"path"`
	At           time.Time `json:"at"`
}

// AuditSink receives resolution outcomes. Record is fire-and-forget from
// the resolver's point of view: failures are logged, never surfaced.
type AuditSink interface {
	Record(ctx context.Context, ev *AuditEvent) error
}

// auditRecorder decouples the resolution hot path from the sink: events go
// through a buffered channel to a background worker, and a full buffer drops
// the event instead of blocking.
type auditRecorder struct {
	sink   AuditSink
	ch     chan AuditEvent
	log    logger.Logger
	wg     sync.WaitGroup
	closed sync.Once
}

func newAuditRecorder(sink AuditSink, buffer int, log logger.Logger) *auditRecorder {
	if buffer <= 0 {
		buffer = 1024
	}
	r := &auditRecorder{
		sink: sink,
		ch:   make(chan AuditEvent, buffer),
		log:  log,
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

func (r *auditRecorder) worker() {
	defer r.wg.Done()
	bg := context.Background()
	for ev := range r.ch {
		if err := r.sink.Record(bg, &ev); err != nil {
			r.log.Error("audit record failed", "id", ev.ID, "error", err.Error())
		}
	}
}

func (r *auditRecorder) record(ev AuditEvent) {
	ev.ID = uuid.NewString()
	select {
	case r.ch <- ev:
	default:
		r.log.Error("audit buffer full, event dropped", "principal", ev.Principal, "path", ev.Path)
	}
}

// close drains queued events and stops the worker.
func (r *auditRecorder) close() {
	r.closed.Do(func() { close(r.ch) })
	r.wg.Wait()
}

// MemoryAuditSink collects events in memory, mainly for tests and demos.
type MemoryAuditSink struct {
	mu     sync.RWMutex
	events []*AuditEvent
}

func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{events: make([]*AuditEvent, 0)}
}

func (s *MemoryAuditSink) Record(ctx context.Context, ev *AuditEvent) error {
	cp := *ev
	s.mu.Lock()
	s.events = append(s.events, &cp)
	s.mu.Unlock()
	return nil
}

// Events returns a snapshot of recorded events.
func (s *MemoryAuditSink) Events() []*AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
