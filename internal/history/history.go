// Package history exports task lifecycle events to external stores.
// Emission is best-effort: a sink failure is logged by the caller and
// never fails the lifecycle operation that produced the event.
package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventStarted    EventType = "started"
	EventTerminated EventType = "terminated"
	EventKilled     EventType = "killed"
	EventDestructed EventType = "destructed"
)

// Event is one lifecycle transition of one task.
type Event struct {
	Type       EventType `json:"type"`
	TaskID     string    `json:"task_id"`
	Backend    string    `json:"backend"`
	BackendID  string    `json:"backend_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// MultiSink fans one event out to several sinks, collecting errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event; the factory returns it when history is not
// configured so callers never branch on nil.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
