// Package notify carries best-effort change notifications out of the engine.
package notify

import (
	"context"
	"errors"
)

// Event names emitted by the engine.
const (
	TaskUpdated    = "taskUpdated"
	TaskAssigned   = "taskAssigned"
	ProjectUpdated = "projectUpdated"
)

type Event struct {
	Name       string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    map[string]any
}

// Notifier receives events. Callers treat errors as non-fatal.
type Notifier interface {
	Emit(ctx context.Context, ev Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, ev Event) error

func (f Func) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

// Recorder keeps emitted events in memory.
type Recorder struct {
	ch chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
		return nil
	default:
		return errors.New("recorder full")
	}
}

// Drain returns everything recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
