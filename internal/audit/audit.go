// Package audit captures security-relevant authorization events. Domain
// logic emits through the Publisher interface so sinks (Kafka, memory) can be
// swapped without touching token or flow code.
package audit

import (
	"context"
	"sync"
	"time"
)

// Action names the auditable moments of the authorization core.
type Action string

const (
	ActionLoginSucceeded     Action = "login_succeeded"
	ActionCodeIssued         Action = "code_issued"
	ActionCodeRedeemed       Action = "code_redeemed"
	ActionTokensIssued       Action = "tokens_issued"
	ActionRefreshRotated     Action = "refresh_rotated"
	ActionReuseDetected      Action = "refresh_reuse_detected"
	ActionSubjectInvalidated Action = "subject_invalidated"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Publisher delivers events to a sink. Emit must be safe for concurrent use
// and must not block token issuance on sink latency.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// MemoryPublisher collects events in memory for tests and for deployments
// without a broker.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher constructs an empty in-memory sink.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Emit(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything emitted so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

var _ Publisher = (*MemoryPublisher)(nil)
